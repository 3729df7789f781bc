package benchmarks

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/randalmurphal/reportflow/pkg/reportflow"
	"github.com/randalmurphal/reportflow/pkg/reportflow/catalog"
	"github.com/randalmurphal/reportflow/pkg/reportflow/checkpoint"
	"github.com/randalmurphal/reportflow/pkg/reportflow/durable"
	"github.com/randalmurphal/reportflow/pkg/reportflow/gateway"
	"github.com/randalmurphal/reportflow/pkg/reportflow/signal"
	"github.com/randalmurphal/reportflow/pkg/reportflow/stage"
	"github.com/randalmurphal/reportflow/pkg/reportflow/store"
)

// BenchmarkChain_Default runs the full default chain against canned answers.
// It measures orchestration, repair, validation and persistence overhead.
func BenchmarkChain_Default(b *testing.B) {
	svc := newService(b)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := svc.StartChain(ctx, reportflow.StartRequest{UserInput: "quieter cooling fans"}); err != nil {
			b.Fatal(err)
		}
		svc.Wait()
	}
}

// BenchmarkChain_Progress measures reading the progress record.
func BenchmarkChain_Progress(b *testing.B) {
	svc := newService(b)
	ctx := context.Background()
	id, err := svc.StartChain(ctx, reportflow.StartRequest{UserInput: "quieter cooling fans"})
	if err != nil {
		b.Fatal(err)
	}
	svc.Wait()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = svc.GetProgress(ctx, id)
	}
}

func newService(b *testing.B) *reportflow.Service {
	b.Helper()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	mock := gateway.NewMock("")
	for name, text := range catalog.Samples() {
		mock.WithStage(name, gateway.MockResponse{Text: text})
	}
	graph, err := reportflow.NewGraph().AddStages(catalog.Default()...).Compile()
	if err != nil {
		b.Fatal(err)
	}
	exec := stage.NewExecutor(gateway.New(mock, gateway.DefaultConfig(), gateway.WithLogger(quiet)),
		stage.WithLogger(quiet))
	engine := durable.New(checkpoint.NewMemoryStore(), signal.NewMemoryStore(), durable.WithLogger(quiet))
	svc := reportflow.New(graph, exec, engine, store.NewMemoryStore(), reportflow.WithLogger(quiet))
	b.Cleanup(func() { _ = svc.Close() })
	return svc
}
