package settings

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Partition and sort key of the single settings record.
const (
	settingsPartition = "SmtpServer"
	settingsRow       = "Current"
)

// DynamoAPI is the subset of the DynamoDB client used by the store.
// Used for testing with mock implementations.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoStore persists the settings record in a DynamoDB table.
type DynamoStore struct {
	client DynamoAPI
	table  string
}

// settingsItem is the stored shape of the settings record. Absent
// attributes unmarshal to nil pointers, which the cache treats as
// missing fields to be healed.
type settingsItem struct {
	PK                  string  `dynamodbav:"PK"`
	SK                  string  `dynamodbav:"SK"`
	ServerName          *string `dynamodbav:"ServerName,omitempty"`
	EnableSpamFiltering *bool   `dynamodbav:"EnableSpamFiltering,omitempty"`
	SpamhausKey         *string `dynamodbav:"SpamhausKey,omitempty"`
	EnableSpfCheck      *bool   `dynamodbav:"EnableSpfCheck,omitempty"`
	EnableDkimCheck     *bool   `dynamodbav:"EnableDkimCheck,omitempty"`
	EnableDmarcCheck    *bool   `dynamodbav:"EnableDmarcCheck,omitempty"`
	SendGridApiKey      *string `dynamodbav:"SendGridApiKey,omitempty"`
	SendGridFromEmail   *string `dynamodbav:"SendGridFromEmail,omitempty"`
	DomainsJson         *string `dynamodbav:"DomainsJson,omitempty"`
	DoNotSaveMessages   *bool   `dynamodbav:"DoNotSaveMessages,omitempty"`
	RestartRequested    *string `dynamodbav:"RestartRequested,omitempty"`
}

// NewDynamoStore creates a DynamoStore backed by the given table.
func NewDynamoStore(client DynamoAPI, table string) *DynamoStore {
	return &DynamoStore{
		client: client,
		table:  table,
	}
}

// Load reads the settings record.
func (s *DynamoStore) Load(ctx context.Context) (*Record, bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       settingsKey(),
	})
	if err != nil {
		return nil, false, fmt.Errorf("getting settings item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, false, nil
	}

	var item settingsItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, false, fmt.Errorf("unmarshaling settings item: %w", err)
	}

	rec := &Record{
		ServerName:          item.ServerName,
		EnableSpamFiltering: item.EnableSpamFiltering,
		SpamhausKey:         item.SpamhausKey,
		EnableSpfCheck:      item.EnableSpfCheck,
		EnableDkimCheck:     item.EnableDkimCheck,
		EnableDmarcCheck:    item.EnableDmarcCheck,
		SendGridApiKey:      item.SendGridApiKey,
		SendGridFromEmail:   item.SendGridFromEmail,
		DomainsJson:         item.DomainsJson,
		DoNotSaveMessages:   item.DoNotSaveMessages,
	}
	if item.RestartRequested != nil {
		ts, err := time.Parse(time.RFC3339Nano, *item.RestartRequested)
		if err != nil {
			// An unparseable marker is treated as absent rather than
			// poisoning every load.
			slog.Warn("ignoring malformed restart marker",
				"value", *item.RestartRequested,
				"error", err,
			)
		} else {
			rec.RestartRequested = &ts
		}
	}

	return rec, true, nil
}

// Save upserts the settings record.
func (s *DynamoStore) Save(ctx context.Context, rec *Record) error {
	item := settingsItem{
		PK:                  settingsPartition,
		SK:                  settingsRow,
		ServerName:          rec.ServerName,
		EnableSpamFiltering: rec.EnableSpamFiltering,
		SpamhausKey:         rec.SpamhausKey,
		EnableSpfCheck:      rec.EnableSpfCheck,
		EnableDkimCheck:     rec.EnableDkimCheck,
		EnableDmarcCheck:    rec.EnableDmarcCheck,
		SendGridApiKey:      rec.SendGridApiKey,
		SendGridFromEmail:   rec.SendGridFromEmail,
		DomainsJson:         rec.DomainsJson,
		DoNotSaveMessages:   rec.DoNotSaveMessages,
	}
	if rec.RestartRequested != nil {
		formatted := rec.RestartRequested.UTC().Format(time.RFC3339Nano)
		item.RestartRequested = &formatted
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshaling settings item: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("putting settings item: %w", err)
	}
	return nil
}

// settingsKey builds the primary key of the settings record.
func settingsKey() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: settingsPartition},
		"SK": &types.AttributeValueMemberS{Value: settingsRow},
	}
}
