package types

// PlaybackConfig is the config.json document served next to the demo site.
type PlaybackConfig struct {
	PlaybackURL string `json:"playbackUrl"`
}

// Cue is the timed metadata payload inserted into the live stream.
type Cue struct {
	Type        string `json:"type"`
	Image       string `json:"image,omitempty"`
	Objects     string `json:"objects,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

const (
	CueTypeRekognition = "rekognition"
)

// Output keys exported by the moderation stack.
const (
	OutputWebsiteURL     = "WebsiteUrl"
	OutputPlaybackURL    = "PlaybackUrl"
	OutputChannelArn     = "ChannelArn"
	OutputStreamKeyValue = "StreamKeyValue"
	OutputBucketName     = "IvsS3Bucket"
)

// Environment variables understood by the thumbnail handler.
const (
	EnvBucketName     = "BUCKET_NAME"
	EnvChannelArn     = "CHANNEL_ARN"
	EnvAnalyzer       = "ANALYZER"
	EnvBedrockModelID = "BEDROCK_MODEL_ID"
	EnvMinConfidence  = "MIN_CONFIDENCE"
	EnvLogLevel       = "LOG_LEVEL"
)

// MaxMetadataBytes is the IVS PutMetadata payload limit.
const MaxMetadataBytes = 1024
