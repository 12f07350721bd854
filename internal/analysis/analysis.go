// Package analysis runs the offline pipeline that turns a song into target
// notes: vocal isolation through the separation gate, WAV decoding, pitch
// extraction, and note segmentation.
//
// An [Analyzer] is shared by every request in the process. Separation calls
// are deduplicated per song by the injected [gate.Gate]; CPU-bound stages run
// under a weighted semaphore so that a burst of requests cannot saturate
// the host.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/singalong/internal/gate"
	"github.com/MrWong99/singalong/internal/observe"
	"github.com/MrWong99/singalong/pkg/audio"
	"github.com/MrWong99/singalong/pkg/audio/wav"
	"github.com/MrWong99/singalong/pkg/notes"
	"github.com/MrWong99/singalong/pkg/pitch"
	"github.com/MrWong99/singalong/pkg/provider/separation"
)

var (
	// ErrNoAudio is returned when a request carries neither source audio nor
	// isolated vocals.
	ErrNoAudio = errors.New("analysis: request has no audio")

	// ErrNoProvider is returned when a request needs vocal isolation but the
	// Analyzer has no separation provider.
	ErrNoProvider = errors.New("analysis: no separation provider configured")

	// ErrNoSongID is returned when a request needing isolation has no song
	// identifier to deduplicate on.
	ErrNoSongID = errors.New("analysis: song id is required for separation")
)

// Request describes one song to analyse.
type Request struct {
	// SongID identifies the song. Concurrent requests with the same SongID
	// share one separation call.
	SongID string

	// Source is the encoded song mix handed to the separation provider.
	// Ignored when Vocals is set.
	Source []byte

	// Vocals is an already isolated vocal stem as WAV. When set, separation
	// is skipped.
	Vocals []byte

	// Lyrics restricts notes to sung passages. Nil disables clipping; an
	// empty non-nil slice discards every note.
	Lyrics []notes.LyricSegment
}

// Report is the outcome of one analysis.
type Report struct {
	SongID string

	// Notes is the target note sequence, sorted and non-overlapping.
	Notes []notes.Note

	// Pitches is the raw pitch series the notes were derived from.
	Pitches pitch.Series

	// Degraded is set when a resource ceiling cut the analysis short. Notes
	// and Pitches are then empty.
	Degraded bool

	// SampleRate and Duration describe the decoded vocal stem.
	SampleRate int
	Duration   time.Duration

	// SharedSeparation reports whether the vocals came from a separation
	// call joined by other requests.
	SharedSeparation bool
}

// Option is a functional option for [New].
type Option func(*Analyzer)

// WithGate sets the gate used to deduplicate separation calls. Defaults to
// a private gate with [gate.DefaultPolicy].
func WithGate(g *gate.Gate) Option {
	return func(a *Analyzer) { a.gate = g }
}

// WithWorkers bounds the number of analyses running CPU-bound stages at
// once. Defaults to runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.workers = n
		}
	}
}

// WithTrackerConfig sets the offline pitch tracker configuration.
func WithTrackerConfig(cfg pitch.TrackerConfig) Option {
	return func(a *Analyzer) { a.SetTrackerConfig(cfg) }
}

// WithNotesConfig sets the note segmenter configuration.
func WithNotesConfig(cfg notes.Config) Option {
	return func(a *Analyzer) { a.SetNotesConfig(cfg) }
}

// WithMetrics records stage latencies and outcome counters on m. Defaults
// to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Analyzer) { a.metrics = m }
}

// Analyzer runs the offline pipeline. All methods are safe for concurrent
// use.
type Analyzer struct {
	provider separation.Provider
	gate     *gate.Gate
	workers  int
	sem      *semaphore.Weighted
	metrics  *observe.Metrics

	tracker   atomic.Pointer[pitch.Tracker]
	segmenter atomic.Pointer[notes.Segmenter]
}

// New returns an Analyzer isolating vocals with provider. provider may be nil
// when every request carries its own vocals.
func New(provider separation.Provider, opts ...Option) *Analyzer {
	a := &Analyzer{
		provider: provider,
		workers:  runtime.NumCPU(),
	}
	a.tracker.Store(pitch.NewTracker(pitch.TrackerConfig{}))
	a.segmenter.Store(notes.NewSegmenter(notes.Config{}))
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.gate == nil {
		a.gate = gate.NewGate(gate.WithMetrics(a.metrics))
	}
	a.sem = semaphore.NewWeighted(int64(a.workers))
	return a
}

// Workers returns the concurrency bound for CPU-bound stages.
func (a *Analyzer) Workers() int { return a.workers }

// TrackerConfig returns the effective offline tracker configuration.
func (a *Analyzer) TrackerConfig() pitch.TrackerConfig { return a.tracker.Load().Config() }

// NotesConfig returns the effective segmenter configuration.
func (a *Analyzer) NotesConfig() notes.Config { return a.segmenter.Load().Config() }

// SetTrackerConfig replaces the pitch tracker. Analyses already running keep
// the tracker they started with.
func (a *Analyzer) SetTrackerConfig(cfg pitch.TrackerConfig) {
	a.tracker.Store(pitch.NewTracker(cfg))
}

// SetNotesConfig replaces the note segmenter. Analyses already running keep
// the segmenter they started with.
func (a *Analyzer) SetNotesConfig(cfg notes.Config) {
	a.segmenter.Store(notes.NewSegmenter(cfg))
}

// Analyze runs the pipeline for req.
//
// Decode failures are returned as-is (test with errors.Is against
// [wav.ErrUnsupportedFormat]); separation failures are returned wrapped. A
// stem exceeding the tracker's size ceiling is not an error: the report is
// marked Degraded and carries no notes. Silence yields an empty report.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (_ *Report, err error) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "analysis.analyze",
		trace.WithAttributes(observe.Attr("song_id", req.SongID)))
	defer func() {
		observe.EndSpan(span, err)
		status := "ok"
		if err != nil {
			status = "error"
		}
		a.metrics.AnalysisDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(observe.Attr("status", status)))
	}()

	report := &Report{SongID: req.SongID, Notes: []notes.Note{}, Pitches: pitch.Series{}}

	vocals := req.Vocals
	if len(vocals) == 0 {
		res, err := a.separate(ctx, req)
		if err != nil {
			return nil, err
		}
		vocals = res.Vocals
		report.SharedSeparation = res.Shared
	}

	if err := a.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer a.sem.Release(1)

	tracker := a.tracker.Load()
	segmenter := a.segmenter.Load()

	var buf *audio.SampleBuffer
	err = a.stage(ctx, "analysis.decode", a.metrics.DecodeDuration, func() error {
		var derr error
		buf, derr = wav.Decode(vocals)
		return derr
	})
	if err != nil {
		return nil, fmt.Errorf("analysis: decode %q: %w", req.SongID, err)
	}
	report.SampleRate = buf.SampleRate
	report.Duration = buf.Duration()

	var series pitch.Series
	err = a.stage(ctx, "analysis.pitch", a.metrics.PitchDuration, func() error {
		var terr error
		series, terr = tracker.Track(buf)
		return terr
	})
	if errors.Is(err, pitch.ErrResourceLimit) {
		observe.Logger(ctx).Warn("analysis: degraded, stem exceeds size ceiling",
			"song_id", req.SongID,
			"size_bytes", buf.SizeBytes(),
			"max_bytes", tracker.Config().MaxDecodedBytes,
		)
		a.metrics.AnalysisDegraded.Add(ctx, 1)
		report.Degraded = true
		return report, nil
	}
	if err != nil {
		return nil, fmt.Errorf("analysis: pitch %q: %w", req.SongID, err)
	}
	report.Pitches = series

	err = a.stage(ctx, "analysis.segment", a.metrics.SegmentDuration, func() error {
		report.Notes = segmenter.Segment(series, req.Lyrics)
		return notes.Validate(report.Notes)
	})
	if err != nil {
		return nil, fmt.Errorf("analysis: segment %q: %w", req.SongID, err)
	}
	a.metrics.NotesProduced.Add(ctx, int64(len(report.Notes)))

	observe.Logger(ctx).Debug("analysis: complete",
		"song_id", req.SongID,
		"pitches", len(report.Pitches),
		"notes", len(report.Notes),
		"duration", report.Duration,
	)
	return report, nil
}

// AnalyzeBatch analyses reqs concurrently and returns their reports in input
// order. The first failure cancels the remaining requests and is returned.
func (a *Analyzer) AnalyzeBatch(ctx context.Context, reqs []Request) ([]*Report, error) {
	reports := make([]*Report, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, req := range reqs {
		g.Go(func() error {
			r, err := a.Analyze(gctx, req)
			if err != nil {
				return err
			}
			reports[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

func (a *Analyzer) separate(ctx context.Context, req Request) (gate.Result, error) {
	switch {
	case len(req.Source) == 0:
		return gate.Result{}, ErrNoAudio
	case a.provider == nil:
		return gate.Result{}, ErrNoProvider
	case req.SongID == "":
		return gate.Result{}, ErrNoSongID
	}

	ctx, span := observe.StartSpan(ctx, "analysis.separate")
	res, err := a.gate.AcquireOrJoin(ctx, req.SongID, func(wctx context.Context) ([]byte, error) {
		return separation.Run(wctx, a.provider, req.SongID, req.Source)
	})
	span.SetAttributes(attribute.Bool("shared", res.Shared))
	observe.EndSpan(span, err)
	if err != nil {
		return gate.Result{}, fmt.Errorf("analysis: separate %q: %w", req.SongID, err)
	}
	return res, nil
}

// stage runs fn inside a span and records its latency on h.
func (a *Analyzer) stage(ctx context.Context, name string, h metric.Float64Histogram, fn func() error) (err error) {
	ctx, span := observe.StartSpan(ctx, name)
	defer func() { observe.EndSpan(span, err) }()
	start := time.Now()
	err = fn()
	h.Record(ctx, time.Since(start).Seconds())
	return err
}
