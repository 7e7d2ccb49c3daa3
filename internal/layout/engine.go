package layout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Arvo-AI/aurora-sub002/internal/topology"
)

const tracerName = "github.com/Arvo-AI/aurora-sub002/internal/layout"

// SpanName is the name of the span recorded around every Compute call.
const SpanName = "layout.compute"

// ErrNilSnapshot is returned by Compute when called without a snapshot.
var ErrNilSnapshot = errors.New("layout: nil snapshot")

// Engine runs the full pipeline: validate, size groups, layer and position,
// then filter edges. An Engine holds no per-snapshot state and is safe for
// concurrent use.
type Engine struct {
	opts   Options
	logger *slog.Logger
	tracer trace.Tracer
}

// NewEngine creates an engine. A nil logger uses slog.Default and a nil
// tracer uses the global otel provider.
func NewEngine(opts Options, logger *slog.Logger, tracer trace.Tracer) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Engine{
		opts:   opts.normalize(),
		logger: logger,
		tracer: tracer,
	}
}

// Options returns the geometry the engine lays out with.
func (e *Engine) Options() Options { return e.opts }

// Compute lays out snap. Invalid nodes and edges are dropped and reported
// as diagnostics; an empty snapshot gives an empty Result. The only errors
// are a nil snapshot and a cancelled context.
func (e *Engine) Compute(ctx context.Context, snap *topology.Snapshot) (*Result, error) {
	if snap == nil {
		return nil, ErrNilSnapshot
	}
	ctx, span := e.tracer.Start(ctx, SpanName, trace.WithAttributes(
		attribute.Int64("layout.version", snap.Version),
		attribute.Int("layout.input_nodes", len(snap.Nodes)),
		attribute.Int("layout.input_edges", len(snap.Edges)),
	))
	defer span.End()

	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("layout: compute v%d: %w", snap.Version, err)
	}

	res := &Result{
		Version: snap.Version,
		Nodes:   []LayoutNode{},
		Edges:   []topology.Edge{},
		Groups:  map[string]Dimensions{},
		Layers:  map[string]int{},
	}

	var valid []topology.Node
	var diags []Diagnostic
	if !snap.IsEmpty() {
		valid, diags = ValidateNodes(snap.Nodes)
	}
	if len(valid) == 0 {
		res.Empty = true
		res.Diagnostics = diags
		e.report(snap.Version, diags)
		span.SetAttributes(attribute.Bool("layout.empty", true))
		return res, nil
	}

	idx := topology.NewIndex(valid, snap.Edges)
	groups := groupDimensions(idx, e.opts)
	positioned, layers := positionNodes(idx, snap.Edges, groups, e.opts)

	var topLevel []topology.Node
	for _, n := range valid {
		if !n.IsChild() {
			topLevel = append(topLevel, n)
		}
	}
	diags = append(diags, CycleDiagnostics(topLevel, snap.Edges)...)

	edges, dangling := PruneDangling(snap.Edges, positioned)
	diags = append(diags, dangling...)

	res.Nodes = positioned
	res.Edges = FilterEdges(edges, positioned)
	res.Groups = groups
	res.Layers = layers
	res.Diagnostics = diags

	e.report(snap.Version, diags)
	span.SetAttributes(
		attribute.Int("layout.nodes", len(res.Nodes)),
		attribute.Int("layout.edges", len(res.Edges)),
		attribute.Int("layout.groups", len(res.Groups)),
		attribute.Int("layout.diagnostics", len(diags)),
	)
	return res, nil
}

func (e *Engine) report(version int64, diags []Diagnostic) {
	for _, d := range diags {
		e.logger.Warn("layout diagnostic",
			"version", version,
			"code", string(d.Code),
			"node_id", d.NodeID,
			"message", d.Message,
		)
	}
}
