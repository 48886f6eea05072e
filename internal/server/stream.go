package server

import (
	"errors"
	"net/http"
	"reflect"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"gacha-ledger/internal/constants"
	"gacha-ledger/internal/domain"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// JobPoller is the read side of the progress tracker.
type JobPoller interface {
	Poll(jobID string) (domain.ImportJob, error)
}

// JobStream pushes snapshots of one import job over a websocket until the
// job reaches a terminal status or expires.
type JobStream struct {
	jobs     JobPoller
	interval time.Duration
	logger   zerolog.Logger
}

func NewJobStream(jobs JobPoller, logger zerolog.Logger) *JobStream {
	return &JobStream{jobs: jobs, interval: constants.ProgressPushEvery, logger: logger}
}

func (s *JobStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := s.jobs.Poll(jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	// the client only listens; a read error means it went away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var last map[string]any
	for {
		snapshot := jobToMap(job)
		if !reflect.DeepEqual(snapshot, last) {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(snapshot); err != nil {
				s.logger.Debug().Err(err).Str("job_id", jobID).Msg("websocket write failed")
				return
			}
			last = snapshot
		}
		if job.Status.Terminal() {
			s.close(conn, websocket.CloseNormalClosure, string(job.Status))
			return
		}

		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		job, err = s.jobs.Poll(jobID)
		if err != nil {
			s.close(conn, websocket.CloseGoingAway, "job expired")
			return
		}
	}
}

func (s *JobStream) close(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
