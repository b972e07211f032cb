package stack

import (
	"errors"
	"strings"
	"testing"

	"ivs-moderation/internal/config"
	"ivs-moderation/internal/types"

	"gopkg.in/yaml.v3"
)

const testDeploymentID = "0b4c6a2e-5f1d-4e7a-9c3b-2d8f6e1a7b90"

func newTestStack(t *testing.T, mutate func(*config.Config)) *Definition {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	return NewModerationStack(cfg.Stack, cfg.Handler, testDeploymentID)
}

func TestModerationStackValidates(t *testing.T) {
	def := newTestStack(t, nil)
	if err := def.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestModerationStackReferencesResolveToEarlierResources(t *testing.T) {
	def := newTestStack(t, func(c *config.Config) { c.Stack.Notifications.QueueName = "thumbnails" })

	position := make(map[string]int)
	for i, r := range def.Resources {
		position[r.Name] = i
	}
	for i, r := range def.Resources {
		for _, ref := range r.Spec.Refs() {
			at, ok := position[ref.Resource]
			if !ok {
				t.Fatalf("%s references undeclared %s", r.Name, ref.Resource)
			}
			if at >= i {
				t.Fatalf("%s references %s which is declared later", r.Name, ref.Resource)
			}
		}
	}

	expectRef := func(name string, target string) {
		t.Helper()
		r, ok := def.Lookup(name)
		if !ok {
			t.Fatalf("missing resource %s", name)
		}
		for _, ref := range r.Spec.Refs() {
			if ref.Resource == target {
				return
			}
		}
		t.Fatalf("expected %s to reference %s", name, target)
	}
	expectRef(RecordingConfiguration, ThumbnailBucket)
	expectRef(Channel, RecordingConfiguration)
	expectRef(StreamKey, Channel)
	expectRef(ThumbnailNotification, ThumbnailBucket)
	expectRef(ThumbnailNotification, ThumbnailQueue)
	expectRef(Distribution, ThumbnailBucket)
}

func TestModerationStackWithQueueDropsFunction(t *testing.T) {
	def := newTestStack(t, func(c *config.Config) { c.Stack.Notifications.QueueName = "thumbnails" })
	if err := def.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	for _, name := range []string{ThumbnailHandler, FunctionRole} {
		if _, ok := def.Lookup(name); ok {
			t.Fatalf("%s should not be declared when notifications go to a queue", name)
		}
	}

	r, _ := def.Lookup(ThumbnailNotification)
	spec := r.Spec.(*BucketNotificationSpec)
	if !spec.FunctionArn.IsZero() {
		t.Fatalf("notification should not target the function, got %s", spec.FunctionArn)
	}
	if spec.QueueArn.String() != RefTo(ThumbnailQueue, AttrArn).String() {
		t.Fatalf("notification should target the queue, got %s", spec.QueueArn)
	}

	q, _ := def.Lookup(ThumbnailQueue)
	if q.Spec.(*QueueSpec).MaxReceiveCount != 5 {
		t.Fatalf("expected the default max receive count on the queue")
	}
}

func TestModerationStackOutputs(t *testing.T) {
	def := newTestStack(t, nil)
	want := []string{
		types.OutputWebsiteURL,
		types.OutputPlaybackURL,
		types.OutputChannelArn,
		types.OutputStreamKeyValue,
		types.OutputBucketName,
	}
	if len(def.Outputs) != len(want) {
		t.Fatalf("expected %d outputs, got %d", len(want), len(def.Outputs))
	}
	for i, key := range want {
		if def.Outputs[i].Key != key {
			t.Fatalf("output %d: expected %s, got %s", i, key, def.Outputs[i].Key)
		}
	}
}

func TestModerationStackWithoutQueue(t *testing.T) {
	def := newTestStack(t, nil)
	if _, ok := def.Lookup(ThumbnailQueue); ok {
		t.Fatalf("queue should only be declared when configured")
	}
	r, _ := def.Lookup(ThumbnailNotification)
	spec := r.Spec.(*BucketNotificationSpec)
	if !spec.QueueArn.IsZero() {
		t.Fatalf("notification should not target a queue")
	}
	if spec.FunctionArn.String() != RefTo(ThumbnailHandler, AttrArn).String() {
		t.Fatalf("notification should target the function, got %s", spec.FunctionArn)
	}
	for _, name := range []string{FunctionRole, ThumbnailHandler} {
		if _, ok := def.Lookup(name); !ok {
			t.Fatalf("missing %s", name)
		}
	}
}

func TestBucketNameIsLowercaseAndBounded(t *testing.T) {
	name := BucketName("IVS-Moderation", testDeploymentID)
	if name != strings.ToLower(name) {
		t.Fatalf("bucket name %q is not lowercase", name)
	}
	if len(name) > 63 {
		t.Fatalf("bucket name %q too long", name)
	}
}

func TestRetainBucketDisablesAutoDelete(t *testing.T) {
	def := newTestStack(t, func(c *config.Config) { c.Stack.RetainBucket = true })
	r, _ := def.Lookup(ThumbnailBucket)
	spec := r.Spec.(*BucketSpec)
	if spec.RemovalPolicy != RemovalRetain || spec.AutoDeleteObjects {
		t.Fatalf("expected retained bucket without auto delete, got %+v", spec)
	}
}

func TestValidateRejectsForwardReference(t *testing.T) {
	d := &Definition{Name: "test"}
	d.Add("Key", &StreamKeySpec{ChannelArn: RefTo("Chan", AttrArn)})
	d.Add("Chan", &ChannelSpec{Name: "c", LatencyMode: "LOW", Type: "STANDARD"})

	err := d.Validate()
	if !errors.Is(err, ErrInvalidDefinition) {
		t.Fatalf("expected invalid definition, got %v", err)
	}
	if !strings.Contains(err.Error(), "before it is declared") {
		t.Fatalf("expected forward reference error, got %v", err)
	}
}

func TestValidateRejectsBadReferences(t *testing.T) {
	tests := []struct {
		name  string
		build func(d *Definition)
		want  string
	}{
		{
			name: "unknown resource",
			build: func(d *Definition) {
				d.Add("Key", &StreamKeySpec{ChannelArn: RefTo("Missing", AttrArn)})
			},
			want: "unknown resource",
		},
		{
			name: "unknown attribute",
			build: func(d *Definition) {
				d.Add("Chan", &ChannelSpec{Name: "c", LatencyMode: "LOW", Type: "STANDARD"})
				d.Add("Key", &StreamKeySpec{ChannelArn: RefTo("Chan", "secret")})
			},
			want: "unknown attribute",
		},
		{
			name: "duplicate name",
			build: func(d *Definition) {
				d.Add("Chan", &ChannelSpec{Name: "c", LatencyMode: "LOW", Type: "STANDARD"})
				d.Add("Chan", &ChannelSpec{Name: "c", LatencyMode: "LOW", Type: "STANDARD"})
			},
			want: "duplicate logical name",
		},
		{
			name: "bad output",
			build: func(d *Definition) {
				d.Output("Url", RefTo("Nowhere", AttrPlaybackURL), "")
			},
			want: "unknown resource",
		},
		{
			name: "spec validation",
			build: func(d *Definition) {
				d.Add("Chan", &ChannelSpec{Name: "c", LatencyMode: "ULTRA", Type: "STANDARD"})
			},
			want: "unknown latency mode",
		},
		{
			name: "overlapping notification destinations",
			build: func(d *Definition) {
				d.Add("Notify", &BucketNotificationSpec{
					Bucket:      Lit("bucket"),
					BucketArn:   Lit("arn:aws:s3:::bucket"),
					FunctionArn: Lit("arn:fn"),
					QueueArn:    Lit("arn:queue"),
					Events:      []string{"s3:ObjectCreated:*"},
					Suffix:      ".jpg",
				})
			},
			want: "both a function and a queue",
		},
		{
			name: "negative max receive count",
			build: func(d *Definition) {
				d.Add("Queue", &QueueSpec{QueueName: "q", MaxReceiveCount: -1})
			},
			want: "max receive count",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &Definition{Name: "test"}
			tt.build(d)
			err := d.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestAttributesResolve(t *testing.T) {
	attrs := Attributes{}
	attrs.Set("Chan", map[string]string{AttrArn: "arn:chan"})

	if got, err := attrs.Resolve(Lit("plain")); err != nil || got != "plain" {
		t.Fatalf("literal: got %q, %v", got, err)
	}
	if got, err := attrs.Resolve(RefTo("Chan", AttrArn)); err != nil || got != "arn:chan" {
		t.Fatalf("ref: got %q, %v", got, err)
	}
	if _, err := attrs.Resolve(RefTo("Chan", AttrPlaybackURL)); err == nil {
		t.Fatalf("expected missing attribute error")
	}
	if _, err := attrs.Resolve(RefTo("Other", AttrArn)); err == nil {
		t.Fatalf("expected missing resource error")
	}
}

func TestSynthRendersReferences(t *testing.T) {
	def := newTestStack(t, nil)
	out, err := def.Synth()
	if err != nil {
		t.Fatalf("synth: %v", err)
	}

	var doc struct {
		Stack     string `yaml:"stack"`
		Resources []struct {
			Name      string         `yaml:"name"`
			Kind      string         `yaml:"kind"`
			DependsOn []string       `yaml:"depends_on"`
			Props     map[string]any `yaml:"properties"`
		} `yaml:"resources"`
	}
	if err := yaml.Unmarshal(out, &doc); err != nil {
		t.Fatalf("unmarshal synth output: %v", err)
	}
	if doc.Stack != "ModerationStack" {
		t.Fatalf("unexpected stack name %q", doc.Stack)
	}
	for _, r := range doc.Resources {
		if r.Name != Channel {
			continue
		}
		if got := r.Props["recording_configuration_arn"]; got != "${RecordingConfiguration.arn}" {
			t.Fatalf("unexpected channel reference %v", got)
		}
		if len(r.DependsOn) != 1 || r.DependsOn[0] != RecordingConfiguration {
			t.Fatalf("unexpected depends_on %v", r.DependsOn)
		}
		if got := r.Props["latency_mode"]; got != "LOW" {
			t.Fatalf("unexpected latency mode %v", got)
		}
		return
	}
	t.Fatalf("channel missing from synth output")
}
