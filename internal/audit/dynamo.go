package audit

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// recordTimeout bounds each audit write so a slow store cannot stall the
// delivery path.
const recordTimeout = 5 * time.Second

// PutItemAPI is the subset of the DynamoDB client used by the sink.
// Used for testing with mock implementations.
type PutItemAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoSink writes audit entries to a DynamoDB table.
//
// The sort key counts down from the maximum timestamp so that a forward
// scan within the "Log" partition returns the newest entries first.
type DynamoSink struct {
	client PutItemAPI
	table  string
	now    func() time.Time
}

// logItem is the stored shape of one audit entry.
type logItem struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	Timestamp string `dynamodbav:"Timestamp"`
	Message   string `dynamodbav:"Message"`
	Level     string `dynamodbav:"Level"`
	Exception string `dynamodbav:"Exception,omitempty"`
	Source    string `dynamodbav:"Source,omitempty"`
}

// NewDynamoSink creates a DynamoSink writing to the given table.
func NewDynamoSink(client PutItemAPI, table string) *DynamoSink {
	return &DynamoSink{
		client: client,
		table:  table,
		now:    time.Now,
	}
}

// Record writes the entry to the table. Failures are logged to the process
// logger and otherwise swallowed.
func (s *DynamoSink) Record(level Level, message string, recErr error, source string) {
	ts := s.now().UTC()

	item := logItem{
		PK:        "Log",
		SK:        reverseKey(ts),
		Timestamp: ts.Format(time.RFC3339Nano),
		Message:   message,
		Level:     string(level),
		Source:    source,
	}
	if recErr != nil {
		item.Exception = recErr.Error()
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		slog.Error("failed to marshal audit entry", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
	})
	if err != nil {
		slog.Error("failed to write audit entry", "error", err, "table", s.table)
	}
}

// reverseKey formats a reverse-chronological sort key: newest entries sort
// first lexicographically.
func reverseKey(ts time.Time) string {
	return fmt.Sprintf("%019d", math.MaxInt64-ts.UnixNano())
}
