package notes_test

import (
	"encoding/json"
	"errors"
	"math"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/MrWong99/singalong/pkg/notes"
	"github.com/MrWong99/singalong/pkg/pitch"
)

const eps = 1e-9

// run appends count observations of freq starting at start, spaced by hop.
func run(series pitch.Series, start, hop float64, count int, freq float64) pitch.Series {
	for i := range count {
		series = append(series, pitch.Sample{Time: start + float64(i)*hop, Frequency: freq})
	}
	return series
}

func approx(a, b float64) bool { return math.Abs(a-b) < eps }

func assertNotes(t *testing.T, got []notes.Note, want [][2]float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d notes %+v, want %d", len(got), got, len(want))
	}
	for i, w := range want {
		if !approx(got[i].Start, w[0]) || !approx(got[i].End, w[1]) {
			t.Errorf("note %d = [%.3f, %.3f], want [%.3f, %.3f]", i, got[i].Start, got[i].End, w[0], w[1])
		}
	}
}

func TestSegment_DropsNoteInLyricGap(t *testing.T) {
	var series pitch.Series
	series = run(series, 1.0, 0.25, 8, 440) // [1, 3]
	series = run(series, 3.5, 0.25, 4, 330) // [3.5, 4.5], inside the gap
	series = run(series, 6.0, 0.25, 4, 220) // [6, 7]

	seg := notes.NewSegmenter(notes.Config{SampleSpan: 0.25})
	lyrics := []notes.LyricSegment{{Start: 0, End: 2, Text: "verse"}, {Start: 5, End: 8, Text: "chorus"}}

	got := seg.Segment(series, lyrics)
	assertNotes(t, got, [][2]float64{{1, 2}, {6, 7}})
	if err := notes.Validate(got); err != nil {
		t.Errorf("Validate: %v", err)
	}
	if !approx(got[0].TargetPitch, 440) || !approx(got[1].TargetPitch, 220) {
		t.Errorf("target pitches = %.1f, %.1f, want 440, 220", got[0].TargetPitch, got[1].TargetPitch)
	}
}

func TestClipToLyrics(t *testing.T) {
	lyrics := []notes.LyricSegment{{Start: 0, End: 2}, {Start: 5, End: 8}}
	tests := []struct {
		name string
		in   []notes.Note
		want [][2]float64
	}{
		{
			name: "note in instrumental gap",
			in:   []notes.Note{{Start: 1, End: 3}, {Start: 3.5, End: 4.5}, {Start: 6, End: 7}},
			want: [][2]float64{{1, 2}, {6, 7}},
		},
		{
			name: "straddles gap keeps larger overlap",
			in:   []notes.Note{{Start: 1.5, End: 6}},
			want: [][2]float64{{5, 6}},
		},
		{
			name: "tie goes to earlier segment",
			in:   []notes.Note{{Start: 1, End: 6}},
			want: [][2]float64{{1, 2}},
		},
		{
			name: "sliver after clipping is dropped",
			in:   []notes.Note{{Start: 1.95, End: 3}},
			want: nil,
		},
		{
			name: "touching boundary does not intersect",
			in:   []notes.Note{{Start: 2, End: 3}},
			want: nil,
		},
	}
	seg := notes.NewSegmenter(notes.Config{})
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assertNotes(t, seg.ClipToLyrics(tc.in, lyrics), tc.want)
		})
	}
}

func TestClipToLyrics_IgnoresDegenerateSegments(t *testing.T) {
	seg := notes.NewSegmenter(notes.Config{})
	got := seg.ClipToLyrics(
		[]notes.Note{{Start: 1, End: 2}},
		[]notes.LyricSegment{{Start: 1.5, End: 1.5}, {Start: 3, End: 1}},
	)
	if len(got) != 0 {
		t.Errorf("got %+v, want no notes", got)
	}
}

func TestSegment_NilVersusEmptyLyrics(t *testing.T) {
	series := run(nil, 0, 0.3, 5, 440)
	seg := notes.NewSegmenter(notes.Config{})

	if got := seg.Segment(series, nil); len(got) != 1 {
		t.Errorf("nil lyrics: got %d notes, want 1", len(got))
	}
	if got := seg.Segment(series, []notes.LyricSegment{}); len(got) != 0 {
		t.Errorf("empty lyrics: got %d notes, want 0", len(got))
	}
}

func TestSegment_Clustering(t *testing.T) {
	tests := []struct {
		name   string
		cfg    notes.Config
		series pitch.Series
		want   [][2]float64
	}{
		{
			name:   "steady pitch forms one note",
			series: run(nil, 0, 0.3, 3, 440),
			want:   [][2]float64{{0, 0.9}},
		},
		{
			name:   "drift within tolerance continues",
			series: pitch.Series{{Time: 0, Frequency: 440}, {Time: 0.3, Frequency: 460}, {Time: 0.6, Frequency: 470}},
			want:   [][2]float64{{0, 0.9}},
		},
		{
			name:   "pitch jump splits",
			series: append(run(nil, 0, 0.3, 2, 440), run(nil, 0.6, 0.3, 2, 330)...),
			want:   [][2]float64{{0, 0.6}, {0.6, 1.2}},
		},
		{
			name:   "long gap splits",
			series: append(run(nil, 0, 0.3, 2, 440), run(nil, 1.5, 0.3, 2, 440)...),
			want:   [][2]float64{{0, 0.6}, {1.5, 2.1}},
		},
		{
			name:   "gap within max gap continues",
			series: append(run(nil, 0, 0.3, 2, 440), run(nil, 1.0, 0.3, 2, 440)...),
			want:   [][2]float64{{0, 1.6}},
		},
		{
			name:   "new note clamps forward to previous end",
			cfg:    notes.Config{SampleSpan: 0.5},
			series: append(run(nil, 0, 0.3, 2, 440), run(nil, 0.6, 0.3, 2, 300)...),
			want:   [][2]float64{{0, 0.8}, {0.8, 1.4}},
		},
		{
			name:   "min gap is honoured",
			cfg:    notes.Config{SampleSpan: 0.5, MinGap: 0.1},
			series: append(run(nil, 0, 0.3, 2, 440), run(nil, 0.6, 0.3, 2, 300)...),
			want:   [][2]float64{{0, 0.8}, {0.9, 1.4}},
		},
		{
			name:   "long note clamps to max duration",
			series: run(nil, 0, 0.3, 20, 440),
			want:   [][2]float64{{0, 3}},
		},
		{
			name:   "short note dropped",
			cfg:    notes.Config{MinDuration: 0.5},
			series: pitch.Series{{Time: 0, Frequency: 440}},
			want:   nil,
		},
		{
			name:   "invalid observations skipped",
			series: pitch.Series{{Time: 0, Frequency: 440}, {Time: 0.3, Frequency: math.NaN()}, {Time: 0.3, Frequency: -1}, {Time: 0.3, Frequency: 440}},
			want:   [][2]float64{{0, 0.6}},
		},
		{
			name:   "unsorted input is ordered first",
			series: pitch.Series{{Time: 0.6, Frequency: 440}, {Time: 0, Frequency: 440}, {Time: 0.3, Frequency: 440}},
			want:   [][2]float64{{0, 0.9}},
		},
		{
			name:   "empty series",
			series: nil,
			want:   nil,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := notes.NewSegmenter(tc.cfg).Segment(tc.series, nil)
			assertNotes(t, got, tc.want)
			if err := notes.Validate(got); err != nil {
				t.Errorf("Validate: %v", err)
			}
		})
	}
}

func TestSegment_Confidence(t *testing.T) {
	series := pitch.Series{
		{Time: 0, Frequency: 440},
		{Time: 0.3, Frequency: 440},
		{Time: 0.6, Frequency: 440},
		{Time: 0.9, Frequency: 465},
	}
	got := notes.NewSegmenter(notes.Config{}).Segment(series, nil)
	if len(got) != 1 {
		t.Fatalf("got %d notes, want 1", len(got))
	}
	// Mean is 446.25; 465 is 18.75 Hz away, outside half the 30 Hz tolerance.
	if !approx(got[0].Confidence, 0.75) {
		t.Errorf("Confidence = %v, want 0.75", got[0].Confidence)
	}
}

func TestSegment_Deterministic(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	series := randomSeries(rng, 200)
	lyrics := []notes.LyricSegment{{Start: 0, End: 20}, {Start: 25, End: 50}}
	seg := notes.NewSegmenter(notes.Config{})

	a, _ := json.Marshal(seg.Segment(series, lyrics))
	b, _ := json.Marshal(seg.Segment(series, lyrics))
	if string(a) != string(b) {
		t.Error("identical input produced different output")
	}
}

func TestSegment_InvariantsOnRandomInput(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 7))
	configs := []notes.Config{
		{},
		{PitchTolerance: 5, MaxGap: 0.1},
		{SampleSpan: 0.8, MinGap: 0.05, MinDuration: 0.2, MaxDuration: 1},
	}
	for i := range 50 {
		cfg := configs[i%len(configs)]
		seg := notes.NewSegmenter(cfg)
		eff := seg.Config()
		series := randomSeries(rng, 100)
		var lyrics []notes.LyricSegment
		if i%2 == 0 {
			lyrics = []notes.LyricSegment{{Start: 2, End: 9}, {Start: 12, End: 30}}
		}

		got := seg.Segment(series, lyrics)
		if err := notes.Validate(got); err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
		for _, n := range got {
			if d := n.Duration(); d < eff.MinDuration-eps || d > eff.MaxDuration+eps {
				t.Fatalf("iteration %d: duration %.3f outside [%.3f, %.3f]", i, d, eff.MinDuration, eff.MaxDuration)
			}
		}
	}
}

// randomSeries produces a mostly-sorted series with pitch jumps and gaps.
func randomSeries(rng *rand.Rand, n int) pitch.Series {
	out := make(pitch.Series, 0, n)
	t, f := 0.0, 220.0
	for range n {
		t += 0.1 + rng.Float64()*0.6
		if rng.IntN(4) == 0 {
			f = 80 + rng.Float64()*700
		} else {
			f += rng.NormFloat64() * 8
		}
		out = append(out, pitch.Sample{Time: t, Frequency: f})
	}
	return out
}

func TestEnforce(t *testing.T) {
	seg := notes.NewSegmenter(notes.Config{})
	in := []notes.Note{
		{Start: 2, End: 3},
		{Start: 0, End: 1.5},
		{Start: 1, End: 2.5},    // overlaps predecessor, shifted to 1.5
		{Start: 2.9, End: 2.95}, // shifted past its end, dropped
		{Start: 5, End: 9},      // clamped to max duration
		{Start: math.NaN(), End: 1},
	}
	got := seg.Enforce(in)
	assertNotes(t, got, [][2]float64{{0, 1.5}, {1.5, 2.5}, {2.5, 3}, {5, 8}})
	if err := notes.Validate(got); err != nil {
		t.Errorf("Validate: %v", err)
	}

	again := seg.Enforce(got)
	if !slices.Equal(got, again) {
		t.Errorf("Enforce not idempotent:\n first  %+v\n second %+v", got, again)
	}

	if in[0].Start != 2 {
		t.Error("Enforce must not mutate its input")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		notes []notes.Note
		ok    bool
	}{
		{"empty", nil, true},
		{"valid", []notes.Note{{Start: 0, End: 1}, {Start: 1, End: 2}}, true},
		{"zero length", []notes.Note{{Start: 1, End: 1}}, false},
		{"unsorted", []notes.Note{{Start: 2, End: 3}, {Start: 0, End: 1}}, false},
		{"overlap", []notes.Note{{Start: 0, End: 2}, {Start: 1, End: 3}}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := notes.Validate(tc.notes)
			if tc.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tc.ok && !errors.Is(err, notes.ErrInvalidNotes) {
				t.Errorf("err = %v, want ErrInvalidNotes", err)
			}
		})
	}
}

func TestNote_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(notes.Note{Start: 1, End: 2.5, TargetPitch: 440, Confidence: 1})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got map[string]float64
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got["duration"] != 1.5 || got["targetPitch"] != 440 || got["start"] != 1 || got["end"] != 2.5 {
		t.Errorf("unexpected JSON %s", data)
	}
}
