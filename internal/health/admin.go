package health

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/MrWong99/voxrelay/internal/journal"
	"github.com/MrWong99/voxrelay/internal/pipeline"
)

// defaultTurnLimit caps GET /turns when no limit is given.
const defaultTurnLimit = 50

// Controller is the pipeline surface the admin endpoints drive.
// [*pipeline.Pipeline] satisfies it.
type Controller interface {
	Pause()
	Resume()
	Paused() bool
	Stats() pipeline.Stats
}

var _ Controller = (*pipeline.Pipeline)(nil)

// Admin serves the operator endpoints:
//
//   - POST /pause   stop relaying; queued work is dropped.
//   - POST /resume  relay again.
//   - GET  /status  pipeline counters and queue depths.
//   - GET  /turns   recent turns from the journal, oldest first.
type Admin struct {
	ctrl      Controller
	turns     journal.Store
	sessionID string
}

// AdminOption configures an [Admin].
type AdminOption func(*Admin)

// WithJournal enables GET /turns, reading turns of sessionID from store. An
// empty sessionID returns turns of every session.
func WithJournal(store journal.Store, sessionID string) AdminOption {
	return func(a *Admin) {
		a.turns = store
		a.sessionID = sessionID
	}
}

// NewAdmin returns an [Admin] controlling ctrl.
func NewAdmin(ctrl Controller, opts ...AdminOption) *Admin {
	a := &Admin{ctrl: ctrl}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Register adds the admin routes to mux.
func (a *Admin) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /pause", a.pause)
	mux.HandleFunc("POST /resume", a.resume)
	mux.HandleFunc("GET /status", a.status)
	if a.turns != nil {
		mux.HandleFunc("GET /turns", a.recentTurns)
	}
}

type pauseResponse struct {
	Paused bool `json:"paused"`
}

func (a *Admin) pause(w http.ResponseWriter, _ *http.Request) {
	a.ctrl.Pause()
	writeJSON(w, http.StatusOK, pauseResponse{Paused: a.ctrl.Paused()})
}

func (a *Admin) resume(w http.ResponseWriter, _ *http.Request) {
	a.ctrl.Resume()
	writeJSON(w, http.StatusOK, pauseResponse{Paused: a.ctrl.Paused()})
}

// ─── Status ──────────────────────────────────────────────────────────────────

type workerStatus struct {
	Done     uint64 `json:"done"`
	Empty    uint64 `json:"empty"`
	Failed   uint64 `json:"failed"`
	InFlight int64  `json:"in_flight"`
}

type playbackStatus struct {
	State    string `json:"state"`
	Pending  int    `json:"pending"`
	Played   uint64 `json:"played"`
	BargeIns uint64 `json:"barge_ins"`
	Dropped  uint64 `json:"dropped"`
	Evicted  uint64 `json:"evicted"`
	Cleared  uint64 `json:"cleared"`
}

type statusResponse struct {
	Running         bool           `json:"running"`
	Paused          bool           `json:"paused"`
	SpeechOnsets    uint64         `json:"speech_onsets"`
	SpeakerActive   bool           `json:"speaker_active"`
	SegmentQueue    int            `json:"segment_queue"`
	TranscriptQueue int            `json:"transcript_queue"`
	QueueCapacity   int            `json:"queue_capacity"`
	STT             workerStatus   `json:"stt"`
	TTS             workerStatus   `json:"tts"`
	Playback        playbackStatus `json:"playback"`
}

func (a *Admin) status(w http.ResponseWriter, _ *http.Request) {
	s := a.ctrl.Stats()
	writeJSON(w, http.StatusOK, statusResponse{
		Running:         s.Running,
		Paused:          s.Paused,
		SpeechOnsets:    s.SpeechOnsets,
		SpeakerActive:   s.SpeakerActive,
		SegmentQueue:    s.SegmentQueue,
		TranscriptQueue: s.TranscriptQueue,
		QueueCapacity:   s.QueueCapacity,
		STT:             workerStatus(s.STT),
		TTS:             workerStatus(s.TTS),
		Playback: playbackStatus{
			State:    s.State,
			Pending:  s.Playback.Pending,
			Played:   s.Playback.Played,
			BargeIns: s.Playback.BargeIns,
			Dropped:  s.Playback.Dropped,
			Evicted:  s.Playback.Evicted,
			Cleared:  s.Playback.Cleared,
		},
	})
}

// ─── Turns ───────────────────────────────────────────────────────────────────

type turnResponse struct {
	SegmentID uint64     `json:"segment_id"`
	Text      string     `json:"text"`
	RawText   string     `json:"raw_text,omitempty"`
	Outcome   string     `json:"outcome"`
	QueuedAt  time.Time  `json:"queued_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   time.Time  `json:"ended_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *Admin) recentTurns(w http.ResponseWriter, r *http.Request) {
	limit := defaultTurnLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	turns, err := a.turns.Recent(r.Context(), a.sessionID, limit)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, r.Context().Err()) {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}

	out := make([]turnResponse, 0, len(turns))
	for _, t := range turns {
		tr := turnResponse{
			SegmentID: t.SegmentID,
			Text:      t.Text,
			Outcome:   t.Outcome,
			QueuedAt:  t.QueuedAt,
			EndedAt:   t.EndedAt,
		}
		if t.RawText != t.Text {
			tr.RawText = t.RawText
		}
		if !t.StartedAt.IsZero() {
			started := t.StartedAt
			tr.StartedAt = &started
		}
		out = append(out, tr)
	}
	writeJSON(w, http.StatusOK, out)
}
