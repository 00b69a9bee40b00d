package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/zen-systems/viewforge/pkg/archive"
	"github.com/zen-systems/viewforge/pkg/artifact"
	"github.com/zen-systems/viewforge/pkg/materialize"
	"github.com/zen-systems/viewforge/pkg/pipeline"
	"go.uber.org/zap"
)

type stepView struct {
	ID       int             `json:"id"`
	Title    string          `json:"title"`
	Status   pipeline.Status `json:"status"`
	Error    string          `json:"error,omitempty"`
	ImageURL string          `json:"image_url,omitempty"`
	MIMEType string          `json:"mime_type,omitempty"`
}

type snapshotView struct {
	RunID      string     `json:"run_id,omitempty"`
	Generation uint64     `json:"generation"`
	Completed  int        `json:"completed"`
	Total      int        `json:"total"`
	Done       bool       `json:"done"`
	Steps      []stepView `json:"steps"`
}

func newSnapshotView(snap pipeline.Snapshot) snapshotView {
	view := snapshotView{
		RunID:      snap.RunID,
		Generation: snap.Generation,
		Completed:  snap.Count(pipeline.StatusCompleted),
		Total:      len(snap.Steps),
		Done:       snap.AllCompleted(),
		Steps:      make([]stepView, len(snap.Steps)),
	}
	for i, st := range snap.Steps {
		sv := stepView{ID: st.Step.ID, Title: st.Step.Title, Status: st.Status, Error: st.Error}
		if st.Result != nil {
			sv.ImageURL = fmt.Sprintf("/api/steps/%d/image?run=%s", st.Step.ID, snap.RunID)
			sv.MIMEType = st.Result.MIMEType
		}
		view.Steps[i] = sv
	}
	return view
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)

	data, mimeType, err := readUpload(r, s.opts.MaxUploadBytes)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "image is too large")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, pipeline.ErrNoSourceImage.Error())
		return
	}

	source, err := artifact.FromBytes(data, mimeType)
	if err != nil {
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
		return
	}

	runID, err := s.startRun(source)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, pipeline.ErrNoSourceImage) || errors.Is(err, pipeline.ErrUnsupportedImage) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}

	s.logger.Info("run accepted", zap.String("run_id", runID), zap.String("mime", source.MIMEType), zap.Int("bytes", source.Size()))
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

// readUpload accepts either a multipart form with an "image" field or a raw
// body whose Content-Type names the image type.
func readUpload(r *http.Request, maxBytes int64) ([]byte, string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, "", err
		}
		return data, mediaType, nil
	}

	if err := r.ParseMultipartForm(maxBytes); err != nil {
		return nil, "", err
	}
	file, header, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", err
	}
	return data, header.Header.Get("Content-Type"), nil
}

func (s *Server) handleSteps(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newSnapshotView(s.runner.Store().Snapshot()))
}

func (s *Server) handleStepImage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid step id")
		return
	}
	snap := s.runner.Store().Snapshot()
	st, ok := snap.Step(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown step")
		return
	}
	if st.Result == nil {
		writeError(w, http.StatusNotFound, "step has no image yet")
		return
	}
	writeImage(w, st.Result)
}

func (s *Server) handleSource(w http.ResponseWriter, r *http.Request) {
	source := s.currentSource()
	if source == nil {
		writeError(w, http.StatusNotFound, pipeline.ErrNoSourceImage.Error())
		return
	}
	writeImage(w, source)
}

func writeImage(w http.ResponseWriter, a *artifact.Artifact) {
	w.Header().Set("Content-Type", a.MIMEType)
	w.Header().Set("Content-Length", strconv.Itoa(a.Size()))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(a.Data)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newSnapshotView(s.reset()))
}

func (s *Server) handleStartMaterialize(w http.ResponseWriter, r *http.Request) {
	err := s.mat.Start(s.ctx, s.runner.Store().Snapshot())
	switch {
	case errors.Is(err, materialize.ErrNotReady), errors.Is(err, materialize.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, s.mat.State())
}

func (s *Server) handleMaterializeState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mat.State())
}

type rotationView struct {
	Title    string `json:"title"`
	ImageURL string `json:"image_url"`
}

func (s *Server) handleViews(w http.ResponseWriter, r *http.Request) {
	snap := s.runner.Store().Snapshot()
	if s.mat.State().Status != materialize.StatusCompleted {
		writeError(w, http.StatusConflict, "model is not materialized yet")
		return
	}
	states := materialize.RotationViews(snap)
	views := make([]rotationView, len(states))
	for i, st := range states {
		views[i] = rotationView{
			Title:    st.Step.Title,
			ImageURL: fmt.Sprintf("/api/steps/%d/image?run=%s", st.Step.ID, snap.RunID),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"default": materialize.DefaultView,
		"views":   views,
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	kit, err := archive.ParseKit(r.URL.Query().Get("kit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	source, snap := s.exportInputs()
	entries, err := archive.Entries(source, snap)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	var buf bytes.Buffer
	opts := archive.Options{Kit: kit, CharacterName: r.URL.Query().Get("name"), Now: s.opts.Now()}
	if err := archive.Bundle(&buf, entries, opts); err != nil {
		s.logger.Error("bundle failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to build bundle")
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, kit.Filename()))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
