package http

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"billed/internal/bills"
	"billed/internal/core"
	"billed/internal/log"
	"billed/internal/newbill"
	"billed/internal/session"
	"billed/internal/store"
)

const (
	sessionMaxAge = 24 * time.Hour
	// maxFormBytes bounds the multipart body the front buffers before
	// forwarding it. The store applies its own attachment limit.
	maxFormBytes = 64 << 20
)

// ExpenseTypes are the choices of the expense-type select.
var ExpenseTypes = []string{
	"Transports",
	"Restaurants et bars",
	"Hôtel et logement",
	"Services en ligne",
	"IT et électronique",
	"Equipement et matériel",
	"Fournitures de bureau",
}

func (s *Server) cookies(w http.ResponseWriter, r *http.Request) *session.CookieStore {
	return session.NewCookieStore(w, r, s.secureCookies, sessionMaxAge)
}

// requireSession loads the identity from the session cookies, sending
// anonymous users to the login page.
func (s *Server) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := session.Load(s.cookies(w, r))
		if err != nil || id.Token == "" {
			if err != nil && !errors.Is(err, session.ErrNoSession) {
				log.FromContext(r.Context()).WarnContext(r.Context(), "Unreadable session", log.FieldError, err.Error())
			}
			redirect(w, r, core.RouteLogin)
			return
		}
		next(w, r.WithContext(withIdentity(r.Context(), id)))
	}
}

type loginPage struct {
	Email string
	Error string
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "login.html", loginPage{})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		BadRequestError("Formulaire invalide").Write(w)
		return
	}
	email := sanitizeInput(r.Form.Get("email"))
	password := r.Form.Get("password")
	logger := log.FromContext(r.Context())

	token, err := s.backend.Login(r.Context(), email, password)
	if err != nil {
		logger.WarnContext(r.Context(), "Login failed", log.FieldEmail, email, log.FieldError, err.Error())
		s.render(w, r, loginStatus(err), "login.html", loginPage{Email: email, Error: "Email ou mot de passe incorrect"})
		return
	}
	user, err := s.backend.ForToken(token).Me(r.Context())
	if err != nil {
		logger.ErrorContext(r.Context(), "Profile lookup failed", log.FieldEmail, email, log.FieldError, err.Error())
		s.render(w, r, http.StatusBadGateway, "login.html", loginPage{Email: email, Error: "Service indisponible, veuillez réessayer"})
		return
	}

	kv := s.cookies(w, r)
	if err := session.Save(kv, session.Identity{Email: user.Email, Type: user.Type, Token: token}); err != nil {
		logger.ErrorContext(r.Context(), "Session save failed", log.FieldError, err.Error())
		s.render(w, r, http.StatusInternalServerError, "login.html", loginPage{Email: email, Error: "Erreur interne"})
		return
	}
	logger.InfoContext(r.Context(), "User logged in", log.FieldEmail, user.Email, log.FieldOperation, log.OpLogin)
	redirect(w, r, core.RouteBills)
}

func loginStatus(err error) int {
	var se *store.StatusError
	if errors.As(err, &se) && se.Code < 500 {
		return http.StatusUnauthorized
	}
	return http.StatusBadGateway
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	session.Clear(s.cookies(w, r))
	redirect(w, r, core.RouteLogin)
}

type billsPage struct {
	Email string
	Bills []core.BillView
	Error string
}

func (s *Server) lister(id session.Identity) *bills.Lister {
	return bills.New(s.backend.ForToken(id.Token), s.logger, bills.WithMetrics(s.metrics))
}

func (s *Server) handleBills(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	views, err := s.lister(id).FetchBills(r.Context())
	if err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Bill listing failed",
			log.FieldEmail, id.Email, log.FieldOperation, log.OpList, log.FieldError, err.Error())
		if isUnauthorized(err) {
			session.Clear(s.cookies(w, r))
			redirect(w, r, core.RouteLogin)
			return
		}
		s.render(w, r, http.StatusBadGateway, "bills.html", billsPage{Email: id.Email, Error: err.Error()})
		return
	}
	core.SortAntiChrono(views)
	s.render(w, r, http.StatusOK, "bills.html", billsPage{Email: id.Email, Bills: views})
}

func isUnauthorized(err error) bool {
	var se *store.StatusError
	return errors.As(err, &se) && se.Code == http.StatusUnauthorized
}

func (s *Server) handleBillPreview(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	u, err := url.Parse(raw)
	if raw == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		BadRequestError("Justificatif introuvable").Write(w)
		return
	}
	id, _ := identityFrom(r.Context())
	preview := s.lister(id).HandleClickIconEye(u.String(), s.previewWidth)
	s.render(w, r, http.StatusOK, "bill_preview", preview)
}

type newBillPage struct {
	Email   string
	DraftID string
	Types   []string
	Fields  newbill.FormState
	Upload  uploadView
}

type uploadView struct {
	DraftID  string
	Phase    string
	FileName string
	FileURL  string
}

func viewUpload(draftID string, u newbill.Upload) uploadView {
	return uploadView{DraftID: draftID, Phase: u.Phase.String(), FileName: u.FileName, FileURL: u.FileURL}
}

func (s *Server) handleNewBillPage(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	draftID, form := s.drafts.Open(newbill.Config{
		Store:    s.backend.ForToken(id.Token),
		Session:  id,
		Navigate: navigate,
		Logger:   s.logger,
		Metrics:  s.metrics,
	})
	log.FromContext(r.Context()).DebugContext(r.Context(), "Draft opened", log.FieldDraftID, draftID, log.FieldEmail, id.Email)
	s.render(w, r, http.StatusOK, "newbill.html", newBillPage{
		Email:   id.Email,
		DraftID: draftID,
		Types:   ExpenseTypes,
		Fields:  form.Fields(),
		Upload:  viewUpload(draftID, form.Upload()),
	})
}

// draft returns the caller's form named by the draft parameter, writing an
// error response when it is gone.
func (s *Server) draft(w http.ResponseWriter, r *http.Request) (string, *newbill.Form, bool) {
	id, _ := identityFrom(r.Context())
	draftID := r.FormValue(paramDraft)
	form, ok := s.drafts.Get(draftID, id.Email)
	if !ok {
		ErrorResponse(http.StatusGone, "Ce formulaire a expiré, veuillez recharger la page.").Write(w)
		return "", nil, false
	}
	return draftID, form, true
}

func applyFields(form *newbill.Form, values url.Values) error {
	for name, v := range postedFields(values) {
		if err := form.SetField(name, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) handleBillField(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		BadRequestError("Formulaire invalide").Write(w)
		return
	}
	_, form, ok := s.draft(w, r)
	if !ok {
		return
	}
	if err := applyFields(form, r.PostForm); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBillAttachment(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		BadRequestError("Fichier illisible").Write(w)
		return
	}
	draftID, form, ok := s.draft(w, r)
	if !ok {
		return
	}
	att, err := readAttachment(r, maxFormBytes)
	if err != nil {
		BadRequestError("Fichier illisible").Write(w)
		return
	}

	inputValue := r.FormValue("file-path")
	if inputValue == "" {
		inputValue = att.Name
	}
	form.HandleAttachmentChange(r.Context(), inputValue, att)

	// The upload keeps running if the request ends first; the submit
	// handler waits for it.
	u, err := form.WaitUpload(r.Context())
	if err != nil {
		return
	}
	resp := NewHTMXResponse().TriggerUploadSettled(u.Phase.String())
	if u.Phase == newbill.PhaseFailed {
		resp.TriggerErrorNotification("Le justificatif n'a pas pu être envoyé")
	}
	var b strings.Builder
	if err := s.templates.ExecuteTemplate(&b, "upload_status", viewUpload(draftID, u)); err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Template execution failed", log.FieldError, err.Error())
	}
	resp.BodyHTML(b.String()).Write(w)
}

func (s *Server) handleSubmitBill(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		BadRequestError("Formulaire invalide").Write(w)
		return
	}
	draftID, form, ok := s.draft(w, r)
	if !ok {
		return
	}
	if err := applyFields(form, r.PostForm); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	ctx, nav := withNavigation(r.Context())
	_, err := form.HandleSubmit(ctx)
	switch {
	case err == nil:
	case errors.Is(err, core.ErrInvalidAmount):
		UnprocessableEntityError("Le montant doit être un nombre").Write(w)
		return
	case errors.Is(err, core.ErrUploadInFlight):
		ErrorResponse(http.StatusConflict, "Le justificatif est encore en cours d'envoi").Write(w)
		return
	case isUnauthorized(err):
		session.Clear(s.cookies(w, r))
		redirect(w, r, core.RouteLogin)
		return
	default:
		BadGatewayError("La note de frais n'a pas pu être enregistrée, veuillez réessayer").Write(w)
		return
	}

	s.drafts.Close(draftID)
	if target := nav.target(); target != "" {
		redirect(w, r, target)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
