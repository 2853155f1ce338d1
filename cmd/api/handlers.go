package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"call-coach-go/internal/config"
	"call-coach-go/internal/logger"
	"call-coach-go/internal/pipeline"
	"call-coach-go/internal/report"
	"call-coach-go/internal/store"
	"call-coach-go/internal/types"
)

type server struct {
	store *store.Store
	pipe  *pipeline.Pipeline
	cfg   config.Config
}

func newServer(st *store.Store, pipe *pipeline.Pipeline, cfg config.Config) *server {
	return &server{store: st, pipe: pipe, cfg: cfg}
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	})
	mux.HandleFunc("POST /transcripts", s.createTranscript)
	mux.HandleFunc("GET /transcripts", s.listTranscripts)
	mux.HandleFunc("GET /transcripts/{id}", s.getTranscript)
	mux.HandleFunc("POST /transcripts/{id}/retry", s.retryTranscript)
	mux.HandleFunc("POST /transcripts/{id}/resplit", s.resplitTranscript)
	mux.HandleFunc("GET /calls", s.listCalls)
	mux.HandleFunc("POST /calls/{id}/regrade", s.regradeCall)
	mux.HandleFunc("POST /grades/{id}/feedback", s.submitFeedback)
	mux.HandleFunc("GET /reports/daily", s.dailyReport)
	mux.HandleFunc("GET /reports/daily.xlsx", s.dailyReportXLSX)
	return mux
}

type uploadRequest struct {
	SDRID          string `json:"sdr_id"`
	TranscriptDate string `json:"transcript_date"`
	RawText        string `json:"raw_text"`
	UploadMethod   string `json:"upload_method"`
}

func (s *server) createTranscript(w http.ResponseWriter, r *http.Request) {
	reqLog := logger.New().WithRequest(r).WithField("handler", "create_transcript")

	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.SDRID == "" {
		badRequest(w, "missing sdr_id")
		return
	}
	if strings.TrimSpace(req.RawText) == "" {
		badRequest(w, "missing raw_text")
		return
	}
	if _, err := time.Parse("2006-01-02", req.TranscriptDate); err != nil {
		badRequest(w, "transcript_date must be YYYY-MM-DD")
		return
	}
	method := types.UploadMethod(req.UploadMethod)
	if method == "" {
		method = types.UploadText
	}
	if method != types.UploadText && method != types.UploadAudio {
		badRequest(w, "upload_method must be text or audio")
		return
	}

	t := types.DailyTranscript{
		ID:             uuid.New().String(),
		SDRID:          req.SDRID,
		TranscriptDate: req.TranscriptDate,
		RawText:        req.RawText,
		UploadMethod:   method,
		Status:         types.StatusPending,
	}
	if err := s.store.CreateTranscript(&t); err != nil {
		s.fail(w, reqLog, err)
		return
	}
	if err := s.pipe.Start(t.ID); err != nil {
		s.fail(w, reqLog, err)
		return
	}
	stored, err := s.store.GetTranscript(t.ID)
	if err != nil {
		s.fail(w, reqLog, err)
		return
	}
	reqLog.WithField("transcript_id", t.ID).Info("transcript ingested")
	writeJSON(w, http.StatusAccepted, s.decorate(stored))
}

func (s *server) listTranscripts(w http.ResponseWriter, r *http.Request) {
	reqLog := logger.New().WithRequest(r).WithField("handler", "list_transcripts")

	q := r.URL.Query()
	f := store.TranscriptFilter{
		SDRID:    q.Get("sdr_id"),
		Status:   types.ProcessingStatus(q.Get("status")),
		DateFrom: q.Get("from"),
		DateTo:   q.Get("to"),
	}
	if f.Status != "" && !types.ValidStatus(f.Status) {
		badRequest(w, "unknown status "+string(f.Status))
		return
	}
	list, err := s.store.ListTranscripts(f)
	if err != nil {
		s.fail(w, reqLog, err)
		return
	}
	out := make([]types.DailyTranscript, 0, len(list))
	for _, t := range list {
		t.RawText = "" // list view carries metadata only
		out = append(out, s.decorate(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) getTranscript(w http.ResponseWriter, r *http.Request) {
	reqLog := logger.New().WithRequest(r).WithField("handler", "get_transcript")
	t, err := s.store.GetTranscript(r.PathValue("id"))
	if err != nil {
		s.fail(w, reqLog, err)
		return
	}
	writeJSON(w, http.StatusOK, s.decorate(t))
}

func (s *server) retryTranscript(w http.ResponseWriter, r *http.Request) {
	reqLog := logger.New().WithRequest(r).WithField("handler", "retry_transcript")
	id := r.PathValue("id")
	if err := s.pipe.RetryTranscript(id); err != nil {
		s.fail(w, reqLog, err)
		return
	}
	t, err := s.store.GetTranscript(id)
	if err != nil {
		s.fail(w, reqLog, err)
		return
	}
	reqLog.WithField("transcript_id", id).Info("retry accepted")
	writeJSON(w, http.StatusAccepted, s.decorate(t))
}

func (s *server) resplitTranscript(w http.ResponseWriter, r *http.Request) {
	reqLog := logger.New().WithRequest(r).WithField("handler", "resplit_transcript")
	id := r.PathValue("id")
	if err := s.pipe.Resplit(id); err != nil {
		s.fail(w, reqLog, err)
		return
	}
	t, err := s.store.GetTranscript(id)
	if err != nil {
		s.fail(w, reqLog, err)
		return
	}
	reqLog.WithField("transcript_id", id).Warn("destructive re-split accepted")
	writeJSON(w, http.StatusAccepted, s.decorate(t))
}

func (s *server) listCalls(w http.ResponseWriter, r *http.Request) {
	reqLog := logger.New().WithRequest(r).WithField("handler", "list_calls")
	q := r.URL.Query()
	calls, err := s.store.ListCalls(store.CallFilter{
		TranscriptID: q.Get("transcript_id"),
		SDRID:        q.Get("sdr_id"),
	})
	if err != nil {
		s.fail(w, reqLog, err)
		return
	}
	if calls == nil {
		calls = []types.CallSegment{}
	}
	writeJSON(w, http.StatusOK, calls)
}

func (s *server) regradeCall(w http.ResponseWriter, r *http.Request) {
	reqLog := logger.New().WithRequest(r).WithField("handler", "regrade_call")
	id := r.PathValue("id")
	if err := s.pipe.StartRegrade(id); err != nil {
		s.fail(w, reqLog, err)
		return
	}
	reqLog.WithField("call_id", id).Info("re-grade accepted")
	writeJSON(w, http.StatusAccepted, map[string]string{"call_id": id, "status": "regrading"})
}

type feedbackRequest struct {
	Helpful *bool   `json:"helpful"`
	Note    *string `json:"note"`
}

func (s *server) submitFeedback(w http.ResponseWriter, r *http.Request) {
	reqLog := logger.New().WithRequest(r).WithField("handler", "submit_feedback")
	id := r.PathValue("id")

	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.Helpful == nil {
		badRequest(w, "missing helpful flag")
		return
	}
	if err := s.store.UpdateFeedback(id, *req.Helpful, req.Note); err != nil {
		s.fail(w, reqLog, err)
		return
	}
	g, err := s.store.GetGrade(id)
	if err != nil {
		s.fail(w, reqLog, err)
		return
	}
	reqLog.WithField("grade_id", id).Info("feedback recorded")
	writeJSON(w, http.StatusOK, g)
}

func (s *server) dailyReport(w http.ResponseWriter, r *http.Request) {
	reqLog := logger.New().WithRequest(r).WithField("handler", "daily_report")
	sdrID, date, ok := reportParams(w, r)
	if !ok {
		return
	}
	rep, err := report.Build(s.store, sdrID, date)
	if err != nil {
		s.fail(w, reqLog, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *server) dailyReportXLSX(w http.ResponseWriter, r *http.Request) {
	reqLog := logger.New().WithRequest(r).WithField("handler", "daily_report_xlsx")
	sdrID, date, ok := reportParams(w, r)
	if !ok {
		return
	}
	rep, err := report.Build(s.store, sdrID, date)
	if err != nil {
		s.fail(w, reqLog, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=coaching-%s-%s.xlsx", sdrID, date))
	if err := report.WriteXLSX(rep, w); err != nil {
		reqLog.WithError(err).Error("failed to stream workbook")
	}
}

func reportParams(w http.ResponseWriter, r *http.Request) (sdrID, date string, ok bool) {
	q := r.URL.Query()
	sdrID = q.Get("sdr_id")
	date = q.Get("date")
	if sdrID == "" {
		badRequest(w, "missing sdr_id")
		return "", "", false
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		badRequest(w, "date must be YYYY-MM-DD")
		return "", "", false
	}
	return sdrID, date, true
}

// decorate fills the derived stuck flag for pollers.
func (s *server) decorate(t types.DailyTranscript) types.DailyTranscript {
	t.Stuck = types.Stuck(t.Status, t.UpdatedAt, time.Now().UTC(), s.cfg.StuckThreshold)
	return t
}

// fail maps domain errors onto HTTP statuses. Nothing fails silently.
func (s *server) fail(w http.ResponseWriter, log *logrus.Entry, err error) {
	var illegal *types.ErrIllegalTransition
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, pipeline.ErrAlreadyProcessing):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "already processing"})
	case errors.Is(err, pipeline.ErrNotRetryable):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, pipeline.ErrNotMeaningful), errors.Is(err, pipeline.ErrNotClassified):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	case errors.As(err, &illegal):
		log.WithError(err).Error("status machine violation")
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		log.WithError(err).Error("internal error")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
