package tracing

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/MPIT-InfoSec/marketing-events-relay-ms/config"
)

func TestTracerWithoutLicenseIsNoop(t *testing.T) {
	tracer, err := NewTracer(config.TracingConfig{AppName: "relay"})
	require.NoError(t, err)

	txn := tracer.StartTransaction("ingest-batch")
	require.Nil(t, txn)

	span := tracer.StartSpan("store", txn)
	require.Nil(t, span)
	span.End()

	ctx := context.Background()
	require.Equal(t, ctx, tracer.NewContext(ctx, txn))
	require.Nil(t, tracer.Application())
	require.Nil(t, tracer.TransactionFromContext(ctx))

	tracer.RecordError(txn, errors.New("boom"))
	tracer.AddAttribute(txn, "accepted", 2)
	tracer.EndTransaction(txn)
	tracer.Close()
}
