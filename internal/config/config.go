package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultConfigPath = "/etc/ivs-moderation/config.yaml"

type Config struct {
	AWS     AWSConfig     `yaml:"aws"`
	Stack   StackConfig   `yaml:"stack"`
	Handler HandlerConfig `yaml:"handler"`
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
}

type AWSConfig struct {
	Region        string `yaml:"region"`
	SQSQueueURL   string `yaml:"sqs_queue_url"`
	DynamoDBTable string `yaml:"dynamodb_table"`
}

type StackConfig struct {
	Name          string              `yaml:"name"`
	BucketPrefix  string              `yaml:"bucket_prefix"`
	RetainBucket  bool                `yaml:"retain_bucket"`
	Recording     RecordingConfig     `yaml:"recording"`
	Channel       ChannelConfig       `yaml:"channel"`
	Function      FunctionConfig      `yaml:"function"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Distribution  DistributionConfig  `yaml:"distribution"`
	Site          SiteConfig          `yaml:"site"`
}

type RecordingConfig struct {
	Name               string        `yaml:"name"`
	ThumbnailInterval  time.Duration `yaml:"thumbnail_interval"`
	RenditionSelection string        `yaml:"rendition_selection"`
	ReconnectWindow    time.Duration `yaml:"reconnect_window"`
}

type ChannelConfig struct {
	Name        string `yaml:"name"`
	LatencyMode string `yaml:"latency_mode"`
	Type        string `yaml:"type"`
	Authorized  bool   `yaml:"authorized"`
}

type FunctionConfig struct {
	Name         string        `yaml:"name"`
	CodePath     string        `yaml:"code_path"`
	Runtime      string        `yaml:"runtime"`
	Handler      string        `yaml:"handler"`
	Architecture string        `yaml:"architecture"`
	Timeout      time.Duration `yaml:"timeout"`
	MemoryMB     int32         `yaml:"memory_mb"`
}

// NotificationsConfig selects where thumbnail notifications are delivered. With a
// queue name they go to SQS for moderation-worker instead of the function.
type NotificationsConfig struct {
	QueueName string `yaml:"queue_name"`
	Suffix    string `yaml:"suffix"`
	// MaxReceiveCount moves a message to the dead-letter queue after this many
	// deliveries. Zero disables the dead-letter queue.
	MaxReceiveCount int `yaml:"max_receive_count"`
}

type DistributionConfig struct {
	DefaultRootObject string `yaml:"default_root_object"`
	CachePolicyID     string `yaml:"cache_policy_id"`
	PriceClass        string `yaml:"price_class"`
}

type SiteConfig struct {
	Title string `yaml:"title"`
}

type HandlerConfig struct {
	BucketName     string  `yaml:"bucket_name"`
	ChannelArn     string  `yaml:"channel_arn"`
	Analyzer       string  `yaml:"analyzer"`
	BedrockModelID string  `yaml:"bedrock_model_id"`
	MinConfidence  float32 `yaml:"min_confidence"`
}

type ServerConfig struct {
	Addr        string `yaml:"addr"`
	PlaybackURL string `yaml:"playback_url"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		AWS: AWSConfig{
			Region:        "eu-central-1",
			DynamoDBTable: "ivs-moderation-deployments",
		},
		Stack: StackConfig{
			Name:         "ModerationStack",
			BucketPrefix: "ivs-moderation",
			Recording: RecordingConfig{
				Name:               "ivs-recording-conf",
				ThumbnailInterval:  5 * time.Second,
				RenditionSelection: "NONE",
			},
			Channel: ChannelConfig{
				Name:        "ivs-channel-moderation",
				LatencyMode: "LOW",
				Type:        "STANDARD",
			},
			Function: FunctionConfig{
				Name:         "IVS-lambda-handler",
				CodePath:     "dist/thumbnail-handler.zip",
				Runtime:      "provided.al2023",
				Handler:      "bootstrap",
				Architecture: "arm64",
				Timeout:      15 * time.Minute,
				MemoryMB:     256,
			},
			Notifications: NotificationsConfig{
				Suffix:          ".jpg",
				MaxReceiveCount: 5,
			},
			Distribution: DistributionConfig{
				DefaultRootObject: "index.html",
				// Managed-CachingDisabled
				CachePolicyID: "4135ea2d-6df8-44a3-9df3-4b5a84be39ad",
				PriceClass:    "PriceClass_100",
			},
			Site: SiteConfig{
				Title: "Live moderation demo",
			},
		},
		Handler: HandlerConfig{
			Analyzer:       "moderation",
			BedrockModelID: "anthropic.claude-3-haiku-20240307-v1:0",
			MinConfidence:  50,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the YAML file named by CONFIG_PATH on top of Default and then applies
// environment overrides. A missing file at the default location is not an error.
func Load() (*Config, error) {
	configPath := os.Getenv("CONFIG_PATH")
	explicit := configPath != ""
	if !explicit {
		configPath = defaultConfigPath
	}

	config := Default()

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := applyEnv(config); err != nil {
		return nil, err
	}

	return config, nil
}

func applyEnv(config *Config) error {
	if val := os.Getenv("AWS_REGION"); val != "" {
		config.AWS.Region = val
	}
	if val := os.Getenv("THUMBNAIL_EVENTS_QUEUE_URL"); val != "" {
		config.AWS.SQSQueueURL = val
	}
	if val := os.Getenv("DYNAMODB_TABLE"); val != "" {
		config.AWS.DynamoDBTable = val
	}
	if val := os.Getenv("STACK_NAME"); val != "" {
		config.Stack.Name = val
	}
	if val := os.Getenv("FUNCTION_CODE_PATH"); val != "" {
		config.Stack.Function.CodePath = val
	}
	if val := os.Getenv("BUCKET_NAME"); val != "" {
		config.Handler.BucketName = val
	}
	if val := os.Getenv("CHANNEL_ARN"); val != "" {
		config.Handler.ChannelArn = val
	}
	if val := os.Getenv("ANALYZER"); val != "" {
		config.Handler.Analyzer = val
	}
	if val := os.Getenv("BEDROCK_MODEL_ID"); val != "" {
		config.Handler.BedrockModelID = val
	}
	if val := os.Getenv("MIN_CONFIDENCE"); val != "" {
		f, err := strconv.ParseFloat(val, 32)
		if err != nil {
			return fmt.Errorf("invalid MIN_CONFIDENCE %q: %w", val, err)
		}
		config.Handler.MinConfidence = float32(f)
	}
	if val := os.Getenv("LISTEN_ADDR"); val != "" {
		config.Server.Addr = val
	}
	if val := os.Getenv("PLAYBACK_URL"); val != "" {
		config.Server.PlaybackURL = val
	}
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		config.Logging.Level = val
	}

	return nil
}
