package cloudlog

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"go.uber.org/zap"
)

// CloudWatchAPI abstracts the CloudWatch Logs operations the sink needs.
type CloudWatchAPI interface {
	CreateLogStream(ctx context.Context, params *cloudwatchlogs.CreateLogStreamInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogStreamOutput, error)
	PutLogEvents(ctx context.Context, params *cloudwatchlogs.PutLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error)
}

// CloudWatch is a Destination backed by a CloudWatch Logs stream.
type CloudWatch struct {
	client CloudWatchAPI
	logger *zap.Logger
}

// NewCloudWatch wraps an existing CloudWatch Logs client.
func NewCloudWatch(client CloudWatchAPI, logger *zap.Logger) *CloudWatch {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CloudWatch{client: client, logger: logger}
}

// NewCloudWatchForRegion builds a client from the default AWS credential
// chain. An empty region defers to the environment.
func NewCloudWatchForRegion(ctx context.Context, region string, logger *zap.Logger) (*CloudWatch, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewCloudWatch(cloudwatchlogs.NewFromConfig(cfg), logger), nil
}

func (c *CloudWatch) CreateStream(ctx context.Context, group, stream string) error {
	_, err := c.client.CreateLogStream(ctx, &cloudwatchlogs.CreateLogStreamInput{
		LogGroupName:  aws.String(group),
		LogStreamName: aws.String(stream),
	})
	if err != nil {
		return fmt.Errorf("create log stream %s/%s: %w", group, stream, err)
	}
	return nil
}

func (c *CloudWatch) PutEvents(ctx context.Context, group, stream string, events []Event, sequenceToken string) (string, error) {
	input := &cloudwatchlogs.PutLogEventsInput{
		LogGroupName:  aws.String(group),
		LogStreamName: aws.String(stream),
		LogEvents:     make([]types.InputLogEvent, 0, len(events)),
	}
	for _, ev := range events {
		input.LogEvents = append(input.LogEvents, types.InputLogEvent{
			Message:   aws.String(ev.Message),
			Timestamp: aws.Int64(ev.TimestampMillis),
		})
	}
	if sequenceToken != "" {
		input.SequenceToken = aws.String(sequenceToken)
	}

	out, err := c.client.PutLogEvents(ctx, input)
	if err != nil {
		return "", fmt.Errorf("put log events: %w", err)
	}
	if rejected := out.RejectedLogEventsInfo; rejected != nil {
		c.logger.Warn("log events rejected",
			zap.String("stream", stream),
			zap.Int32p("too_old_end_index", rejected.TooOldLogEventEndIndex),
			zap.Int32p("too_new_start_index", rejected.TooNewLogEventStartIndex),
			zap.Int32p("expired_end_index", rejected.ExpiredLogEventEndIndex),
		)
	}
	return aws.ToString(out.NextSequenceToken), nil
}
