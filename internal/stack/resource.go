package stack

import (
	"fmt"
	"sort"
	"time"
)

type Kind string

const (
	KindBucket                 Kind = "bucket"
	KindRole                   Kind = "role"
	KindRecordingConfiguration Kind = "recording_configuration"
	KindChannel                Kind = "channel"
	KindStreamKey              Kind = "stream_key"
	KindFunction               Kind = "function"
	KindQueue                  Kind = "queue"
	KindBucketNotification     Kind = "bucket_notification"
	KindBucketDeployment       Kind = "bucket_deployment"
	KindDistribution           Kind = "distribution"
)

// Attribute names reported by drivers.
const (
	AttrName           = "name"
	AttrArn            = "arn"
	AttrObjectsArn     = "objects_arn"
	AttrDomainName     = "domain_name"
	AttrPlaybackURL    = "playback_url"
	AttrIngestEndpoint = "ingest_endpoint"
	AttrValue          = "value"
	AttrURL            = "url"
	AttrID             = "id"
	AttrAccessControl  = "origin_access_control_id"
)

var kindAttributes = map[Kind][]string{
	KindBucket:                 {AttrName, AttrArn, AttrObjectsArn, AttrDomainName},
	KindRole:                   {AttrName, AttrArn},
	KindRecordingConfiguration: {AttrArn},
	KindChannel:                {AttrArn, AttrPlaybackURL, AttrIngestEndpoint},
	KindStreamKey:              {AttrArn, AttrValue},
	KindFunction:               {AttrName, AttrArn},
	KindQueue:                  {AttrURL, AttrArn},
	KindBucketNotification:     {AttrID},
	KindBucketDeployment:       {AttrID},
	KindDistribution:           {AttrID, AttrArn, AttrDomainName, AttrAccessControl},
}

// HasAttribute reports whether resources of kind k expose attr.
func HasAttribute(k Kind, attr string) bool {
	for _, a := range kindAttributes[k] {
		if a == attr {
			return true
		}
	}
	return false
}

// Spec is the typed property set of one resource.
type Spec interface {
	Kind() Kind
	Refs() []Ref
	Validate() error
}

type Resource struct {
	Name string
	Spec Spec
}

func (r Resource) Kind() Kind {
	return r.Spec.Kind()
}

type RemovalPolicy string

const (
	RemovalDestroy RemovalPolicy = "destroy"
	RemovalRetain  RemovalPolicy = "retain"
)

type BucketSpec struct {
	BucketName        string        `yaml:"bucket_name"`
	BlockPublicAccess bool          `yaml:"block_public_access"`
	Versioned         bool          `yaml:"versioned"`
	RemovalPolicy     RemovalPolicy `yaml:"removal_policy"`
	AutoDeleteObjects bool          `yaml:"auto_delete_objects"`
}

func (s *BucketSpec) Kind() Kind     { return KindBucket }
func (s *BucketSpec) Refs() []Ref    { return nil }
func (s *BucketSpec) Retained() bool { return s.RemovalPolicy == RemovalRetain }

func (s *BucketSpec) Validate() error {
	if n := len(s.BucketName); n < 3 || n > 63 {
		return fmt.Errorf("bucket name %q must be 3-63 characters", s.BucketName)
	}
	if s.RemovalPolicy != RemovalDestroy && s.RemovalPolicy != RemovalRetain {
		return fmt.Errorf("unknown removal policy %q", s.RemovalPolicy)
	}
	// emptying only walks current object versions
	if s.Versioned && s.AutoDeleteObjects {
		return fmt.Errorf("auto delete is not supported on versioned bucket %s", s.BucketName)
	}
	return nil
}

type Statement struct {
	Effect    string   `yaml:"effect"`
	Actions   []string `yaml:"actions"`
	Resources []Value  `yaml:"resources"`
}

type InlinePolicy struct {
	Name       string      `yaml:"name"`
	Statements []Statement `yaml:"statements"`
}

type RoleSpec struct {
	RoleName        string         `yaml:"role_name"`
	AssumedBy       string         `yaml:"assumed_by"`
	ManagedPolicies []string       `yaml:"managed_policies,omitempty"`
	InlinePolicies  []InlinePolicy `yaml:"inline_policies,omitempty"`
}

func (s *RoleSpec) Kind() Kind { return KindRole }

func (s *RoleSpec) Refs() []Ref {
	var refs []Ref
	for _, p := range s.InlinePolicies {
		for _, st := range p.Statements {
			refs = append(refs, refsOf(st.Resources...)...)
		}
	}
	return refs
}

func (s *RoleSpec) Validate() error {
	if s.RoleName == "" || len(s.RoleName) > 64 {
		return fmt.Errorf("role name %q must be 1-64 characters", s.RoleName)
	}
	if s.AssumedBy == "" {
		return fmt.Errorf("role %s has no trusted principal", s.RoleName)
	}
	return nil
}

type RecordingConfigurationSpec struct {
	Name               string        `yaml:"name"`
	BucketName         Value         `yaml:"bucket_name"`
	RenditionSelection string        `yaml:"rendition_selection"`
	ThumbnailMode      string        `yaml:"thumbnail_mode"`
	ThumbnailInterval  time.Duration `yaml:"thumbnail_interval"`
	ThumbnailStorage   []string      `yaml:"thumbnail_storage"`
	ReconnectWindow    time.Duration `yaml:"reconnect_window"`
}

func (s *RecordingConfigurationSpec) Kind() Kind  { return KindRecordingConfiguration }
func (s *RecordingConfigurationSpec) Refs() []Ref { return refsOf(s.BucketName) }

func (s *RecordingConfigurationSpec) Validate() error {
	if s.BucketName.IsZero() {
		return fmt.Errorf("recording configuration %s has no bucket", s.Name)
	}
	if s.ThumbnailMode == "INTERVAL" && (s.ThumbnailInterval < time.Second || s.ThumbnailInterval > time.Minute) {
		return fmt.Errorf("thumbnail interval %v must be between 1s and 60s", s.ThumbnailInterval)
	}
	if s.ReconnectWindow < 0 || s.ReconnectWindow > 5*time.Minute {
		return fmt.Errorf("reconnect window %v must be between 0 and 5m", s.ReconnectWindow)
	}
	return nil
}

type ChannelSpec struct {
	Name                      string `yaml:"name"`
	LatencyMode               string `yaml:"latency_mode"`
	Type                      string `yaml:"type"`
	Authorized                bool   `yaml:"authorized"`
	RecordingConfigurationArn Value  `yaml:"recording_configuration_arn"`
}

func (s *ChannelSpec) Kind() Kind  { return KindChannel }
func (s *ChannelSpec) Refs() []Ref { return refsOf(s.RecordingConfigurationArn) }

func (s *ChannelSpec) Validate() error {
	switch s.LatencyMode {
	case "LOW", "NORMAL":
	default:
		return fmt.Errorf("unknown latency mode %q", s.LatencyMode)
	}
	switch s.Type {
	case "BASIC", "STANDARD", "ADVANCED_SD", "ADVANCED_HD":
	default:
		return fmt.Errorf("unknown channel type %q", s.Type)
	}
	return nil
}

type StreamKeySpec struct {
	ChannelArn Value `yaml:"channel_arn"`
}

func (s *StreamKeySpec) Kind() Kind  { return KindStreamKey }
func (s *StreamKeySpec) Refs() []Ref { return refsOf(s.ChannelArn) }

func (s *StreamKeySpec) Validate() error {
	if s.ChannelArn.IsZero() {
		return fmt.Errorf("stream key has no channel")
	}
	return nil
}

type FunctionSpec struct {
	FunctionName string           `yaml:"function_name"`
	CodePath     string           `yaml:"code_path"`
	Runtime      string           `yaml:"runtime"`
	Handler      string           `yaml:"handler"`
	Architecture string           `yaml:"architecture"`
	RoleArn      Value            `yaml:"role_arn"`
	Timeout      time.Duration    `yaml:"timeout"`
	MemoryMB     int32            `yaml:"memory_mb"`
	Environment  map[string]Value `yaml:"environment"`
}

func (s *FunctionSpec) Kind() Kind { return KindFunction }

func (s *FunctionSpec) Refs() []Ref {
	refs := refsOf(s.RoleArn)
	for _, key := range s.EnvironmentKeys() {
		refs = append(refs, refsOf(s.Environment[key])...)
	}
	return refs
}

// EnvironmentKeys returns the environment variable names in sorted order.
func (s *FunctionSpec) EnvironmentKeys() []string {
	keys := make([]string, 0, len(s.Environment))
	for k := range s.Environment {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *FunctionSpec) Validate() error {
	if s.FunctionName == "" {
		return fmt.Errorf("function has no name")
	}
	if s.CodePath == "" {
		return fmt.Errorf("function %s has no code path", s.FunctionName)
	}
	if s.Timeout <= 0 || s.Timeout > 15*time.Minute {
		return fmt.Errorf("function timeout %v must be within (0, 15m]", s.Timeout)
	}
	return nil
}

type QueueSpec struct {
	QueueName       string `yaml:"queue_name"`
	SourceArn       Value  `yaml:"source_arn"`
	MaxReceiveCount int    `yaml:"max_receive_count,omitempty"`
}

func (s *QueueSpec) Kind() Kind  { return KindQueue }
func (s *QueueSpec) Refs() []Ref { return refsOf(s.SourceArn) }

func (s *QueueSpec) Validate() error {
	if s.QueueName == "" {
		return fmt.Errorf("queue has no name")
	}
	if s.MaxReceiveCount < 0 || s.MaxReceiveCount > 1000 {
		return fmt.Errorf("queue max receive count %d must be within [0, 1000]", s.MaxReceiveCount)
	}
	return nil
}

type BucketNotificationSpec struct {
	Bucket      Value    `yaml:"bucket"`
	BucketArn   Value    `yaml:"bucket_arn"`
	FunctionArn Value    `yaml:"function_arn,omitempty"`
	QueueArn    Value    `yaml:"queue_arn,omitempty"`
	Events      []string `yaml:"events"`
	Suffix      string   `yaml:"suffix,omitempty"`
}

func (s *BucketNotificationSpec) Kind() Kind { return KindBucketNotification }

func (s *BucketNotificationSpec) Refs() []Ref {
	return refsOf(s.Bucket, s.BucketArn, s.FunctionArn, s.QueueArn)
}

func (s *BucketNotificationSpec) Validate() error {
	if s.Bucket.IsZero() {
		return fmt.Errorf("bucket notification has no bucket")
	}
	if s.FunctionArn.IsZero() && s.QueueArn.IsZero() {
		return fmt.Errorf("bucket notification has no destination")
	}
	// S3 rejects overlapping destinations for the same events and filter.
	if !s.FunctionArn.IsZero() && !s.QueueArn.IsZero() {
		return fmt.Errorf("bucket notification targets both a function and a queue")
	}
	if len(s.Events) == 0 {
		return fmt.Errorf("bucket notification has no events")
	}
	return nil
}

type BucketDeploymentSpec struct {
	Bucket      Value  `yaml:"bucket"`
	PlaybackURL Value  `yaml:"playback_url"`
	Title       string `yaml:"title"`
}

func (s *BucketDeploymentSpec) Kind() Kind  { return KindBucketDeployment }
func (s *BucketDeploymentSpec) Refs() []Ref { return refsOf(s.Bucket, s.PlaybackURL) }

func (s *BucketDeploymentSpec) Validate() error {
	if s.Bucket.IsZero() {
		return fmt.Errorf("bucket deployment has no bucket")
	}
	return nil
}

type DistributionSpec struct {
	Bucket               Value    `yaml:"bucket"`
	OriginDomain         Value    `yaml:"origin_domain"`
	DefaultRootObject    string   `yaml:"default_root_object"`
	CachePolicyID        string   `yaml:"cache_policy_id"`
	ViewerProtocolPolicy string   `yaml:"viewer_protocol_policy"`
	AllowedMethods       []string `yaml:"allowed_methods"`
	PriceClass           string   `yaml:"price_class"`
	Comment              string   `yaml:"comment"`
}

func (s *DistributionSpec) Kind() Kind  { return KindDistribution }
func (s *DistributionSpec) Refs() []Ref { return refsOf(s.Bucket, s.OriginDomain) }

func (s *DistributionSpec) Validate() error {
	if s.OriginDomain.IsZero() {
		return fmt.Errorf("distribution has no origin")
	}
	if s.CachePolicyID == "" {
		return fmt.Errorf("distribution has no cache policy")
	}
	return nil
}
