package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/urlharvest/internal/telemetry"
)

func newFakeClient(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	ctx := context.Background()
	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func TestPublishSendsJSON(t *testing.T) {
	client, srv := newFakeClient(t)
	ctx := context.Background()
	_, err := client.CreateTopic(ctx, "crawls")
	require.NoError(t, err)

	p, err := New(client, "crawls")
	require.NoError(t, err)
	defer func() { require.NoError(t, p.Close()) }()

	id, err := p.Publish(ctx, "ignored", map[string]any{"crawl_id": "c1", "urls": 3})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	var got map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, "c1", got["crawl_id"])
	require.InDelta(t, 3, got["urls"], 0)
}

func TestPublishCarriesTraceContext(t *testing.T) {
	telemetry.InstallPropagators()
	client, srv := newFakeClient(t)
	ctx := context.Background()
	_, err := client.CreateTopic(ctx, "traced")
	require.NoError(t, err)

	p, err := New(client, "traced")
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x4b, 0xf9, 0x2f, 0x35, 0x77, 0xb3, 0x4d, 0xa6, 0xa3, 0xce, 0x92, 0x9d, 0x0e, 0x0e, 0x47, 0x36},
		SpanID:     trace.SpanID{0x00, 0xf0, 0x67, 0xaa, 0x0b, 0xa9, 0x02, 0xb7},
		TraceFlags: trace.FlagsSampled,
	})
	_, err = p.Publish(trace.ContextWithSpanContext(ctx, sc), "", map[string]string{"crawl_id": "c2"})
	require.NoError(t, err)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", msgs[0].Attributes["traceparent"])
}

func TestPublishMissingTopicFails(t *testing.T) {
	client, _ := newFakeClient(t)
	p, err := New(client, "missing")
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	_, err = p.Publish(context.Background(), "", "payload")
	require.Error(t, err)
}

func TestNewValidatesInputs(t *testing.T) {
	_, err := New(nil, "topic")
	require.Error(t, err)

	client, _ := newFakeClient(t)
	_, err = New(client, "")
	require.Error(t, err)
}

func TestPublishRejectsUnmarshalablePayload(t *testing.T) {
	client, _ := newFakeClient(t)
	p, err := New(client, "crawls")
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	_, err = p.Publish(context.Background(), "", make(chan int))
	require.ErrorContains(t, err, "marshal payload")
}

func TestCarrierRoundTrip(t *testing.T) {
	c := &pubsubCarrier{attrs: map[string]string{}}
	c.Set("traceparent", "00-abc-def-01")
	require.Equal(t, "00-abc-def-01", c.Get("traceparent"))
	require.Equal(t, []string{"traceparent"}, c.Keys())
}
