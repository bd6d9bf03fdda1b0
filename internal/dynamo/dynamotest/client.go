// Package dynamotest provides a configurable DynamoDB test double.
package dynamotest

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// Client implements dynamo.Client with overridable function fields.
// Unset functions return empty successful outputs.
type Client struct {
	GetItemFunc            func(ctx context.Context, input *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error)
	QueryFunc              func(ctx context.Context, input *dynamodb.QueryInput) (*dynamodb.QueryOutput, error)
	PutItemFunc            func(ctx context.Context, input *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error)
	UpdateItemFunc         func(ctx context.Context, input *dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error)
	DeleteItemFunc         func(ctx context.Context, input *dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error)
	TransactWriteItemsFunc func(ctx context.Context, input *dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error)
}

func (c *Client) GetItem(ctx context.Context, input *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if c.GetItemFunc != nil {
		return c.GetItemFunc(ctx, input)
	}
	return &dynamodb.GetItemOutput{}, nil
}

func (c *Client) Query(ctx context.Context, input *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if c.QueryFunc != nil {
		return c.QueryFunc(ctx, input)
	}
	return &dynamodb.QueryOutput{}, nil
}

func (c *Client) PutItem(ctx context.Context, input *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if c.PutItemFunc != nil {
		return c.PutItemFunc(ctx, input)
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (c *Client) UpdateItem(ctx context.Context, input *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	if c.UpdateItemFunc != nil {
		return c.UpdateItemFunc(ctx, input)
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (c *Client) DeleteItem(ctx context.Context, input *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	if c.DeleteItemFunc != nil {
		return c.DeleteItemFunc(ctx, input)
	}
	return &dynamodb.DeleteItemOutput{}, nil
}

func (c *Client) TransactWriteItems(ctx context.Context, input *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	if c.TransactWriteItemsFunc != nil {
		return c.TransactWriteItemsFunc(ctx, input)
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}
