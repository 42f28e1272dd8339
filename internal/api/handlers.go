package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"billed/internal/auth"
	"billed/internal/core"
	"billed/internal/log"
	"billed/internal/storage"
	"billed/internal/store"
)

// multipartOverhead is allowed on top of the attachment limit for the
// other form fields and part headers.
const multipartOverhead = 1 << 20

type contextKey string

const userKey contextKey = "user"

func withUser(ctx context.Context, u core.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

func userFrom(ctx context.Context) core.User {
	u, _ := ctx.Value(userKey).(core.User)
	return u
}

// requireToken verifies the bearer token and stores its user in the context.
func (s *Server) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			raw = ""
		}
		u, err := s.tokens.Verify(strings.TrimSpace(raw))
		if err != nil {
			log.FromContext(r.Context()).InfoContext(r.Context(), "Rejected token",
				log.FieldOperation, "authenticate", log.FieldError, err.Error())
			writeError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		next(w, r.WithContext(withUser(r.Context(), u)))
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed login request")
		return
	}

	u, err := s.bills.Authenticate(ctx, strings.TrimSpace(req.Email), req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err != nil {
		log.FromContext(ctx).ErrorContext(ctx, "Login lookup failed", log.FieldOperation, log.OpLogin, log.FieldError, err.Error())
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	token, err := s.tokens.Issue(u)
	if err != nil {
		log.FromContext(ctx).ErrorContext(ctx, "Token issue failed", log.FieldOperation, log.OpLogin, log.FieldError, err.Error())
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	log.FromContext(ctx).InfoContext(ctx, "User logged in", log.FieldOperation, log.OpLogin, log.FieldEmail, u.Email)
	writeJSON(w, http.StatusOK, map[string]string{"jwt": token})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, userFrom(r.Context()))
}

func (s *Server) handleListBills(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bills, err := s.bills.List(ctx, userFrom(ctx))
	if err != nil {
		log.FromContext(ctx).ErrorContext(ctx, "List bills failed", log.FieldOperation, log.OpList, log.FieldError, err.Error())
		writeError(w, http.StatusInternalServerError, "could not list bills")
		return
	}
	writeJSON(w, http.StatusOK, bills)
}

// handleCreateBill stores an attachment as a draft bill when the body is
// multipart, and creates a submitted bill from a JSON body otherwise.
func (s *Server) handleCreateBill(w http.ResponseWriter, r *http.Request) {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == "multipart/form-data" {
		s.createAttachment(w, r)
		return
	}
	s.createBill(w, r)
}

func (s *Server) createAttachment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	u := userFrom(ctx)
	logger := log.FromContext(ctx).With(log.FieldOperation, log.OpUpload, log.FieldEmail, u.Email)

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+multipartOverhead)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.metrics.ObserveUpload(err)
			writeError(w, http.StatusRequestEntityTooLarge, "attachment too large")
			return
		}
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	if email := r.FormValue("email"); email != "" && email != u.Email {
		logger.WarnContext(ctx, "Upload email differs from the token owner", "form_email", email)
	}

	name, err := s.blobs.Put(header.Filename, file)
	s.metrics.ObserveUpload(err)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.Is(err, storage.ErrTooLarge) || errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "attachment too large")
			return
		}
		logger.ErrorContext(ctx, "Storing attachment failed", log.FieldError, err.Error())
		writeError(w, http.StatusInternalServerError, "could not store attachment")
		return
	}

	fileURL := s.publicBaseURL + "/files/" + name
	rec, err := s.bills.CreateDraft(ctx, u, fileURL, filepath.Base(header.Filename))
	if err != nil {
		logger.ErrorContext(ctx, "Creating draft bill failed", log.FieldError, err.Error())
		writeError(w, http.StatusInternalServerError, "could not create bill")
		return
	}

	logger.InfoContext(ctx, "Attachment stored", log.FieldBillID, rec.ID, log.FieldFileName, header.Filename, "size", header.Size)
	writeJSON(w, http.StatusCreated, store.CreateResult{FileURL: fileURL, Key: rec.ID})
}

func (s *Server) createBill(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	u := userFrom(ctx)

	in, err := decodeBill(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := s.bills.Create(ctx, u, in)
	s.metrics.ObserveSubmit(err)
	if err != nil {
		log.FromContext(ctx).ErrorContext(ctx, "Create bill failed", log.FieldOperation, log.OpCreate, log.FieldError, err.Error())
		writeError(w, http.StatusInternalServerError, "could not create bill")
		return
	}
	log.FromContext(ctx).InfoContext(ctx, "Bill created", log.FieldOperation, log.OpCreate, log.FieldBillID, created.ID)
	writeJSON(w, http.StatusCreated, created)
}

// handleUpdateBill submits a bill. Bills of other users answer 404 unless
// the caller is an admin.
func (s *Server) handleUpdateBill(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	u := userFrom(ctx)
	id := r.PathValue("id")
	logger := log.FromContext(ctx).With(log.FieldOperation, log.OpUpdate, log.FieldBillID, id)

	in, err := decodeBill(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, wasDraft, err := s.bills.Submit(ctx, u, id, in)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "bill not found")
		return
	}
	s.metrics.ObserveSubmit(err)
	if err != nil {
		logger.ErrorContext(ctx, "Update bill failed", log.FieldError, err.Error())
		writeError(w, http.StatusInternalServerError, "could not update bill")
		return
	}
	logger.InfoContext(ctx, "Bill submitted", "was_draft", wasDraft, "status", updated.Status)
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	f, err := s.blobs.Open(name)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	if err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Open attachment failed", log.FieldFileName, name, log.FieldError, err.Error())
		writeError(w, http.StatusInternalServerError, "could not open file")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not open file")
		return
	}
	w.Header().Set("Cache-Control", "private, max-age=3600")
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func decodeBill(w http.ResponseWriter, r *http.Request) (core.Bill, error) {
	var b core.Bill
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&b); err != nil {
		return core.Bill{}, fmt.Errorf("malformed bill: %v", err)
	}
	return b, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
