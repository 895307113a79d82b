// Package server is a small token-vending API: callers describe the access
// they need and get back an account SAS, without ever seeing the account key.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bcspragu/blobsas/db"
	"github.com/bcspragu/blobsas/httperr"
	"github.com/bcspragu/blobsas/sas"
)

type Server struct {
	issuer *sas.Issuer
	cred   sas.Credential
	ledger db.Ledger
	logger *slog.Logger
	now    func() time.Time

	endpoint        string
	container       string
	defaultLifetime time.Duration
	maxLifetime     time.Duration
}

type Options struct {
	// Endpoint is the blob endpoint responses point at.
	Endpoint string
	// Container, if set, adds a container URL to issue responses.
	Container       string
	DefaultLifetime time.Duration
	MaxLifetime     time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

func New(cred sas.Credential, ledger db.Ledger, opts Options) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DefaultLifetime <= 0 {
		opts.DefaultLifetime = 3 * time.Minute
	}
	if opts.MaxLifetime <= 0 {
		opts.MaxLifetime = 24 * time.Hour
	}
	return &Server{
		issuer:          sas.NewIssuer(sas.WithClock(opts.Now)),
		cred:            cred,
		ledger:          ledger,
		logger:          opts.Logger,
		now:             opts.Now,
		endpoint:        strings.TrimSuffix(opts.Endpoint, "/"),
		container:       opts.Container,
		defaultLifetime: opts.DefaultLifetime,
		maxLifetime:     opts.MaxLifetime,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sas", s.handle(s.issue))
	mux.HandleFunc("GET /sas", s.handle(s.list))
	mux.HandleFunc("GET /sas/{id}", s.handle(s.get))
	return mux
}

func (s *Server) handle(fn func(w http.ResponseWriter, r *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			code, _ := httperr.Extract(err)
			lvl := slog.LevelWarn
			if code >= http.StatusInternalServerError {
				lvl = slog.LevelError
			}
			s.logger.Log(r.Context(), lvl, "request failed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", code,
				"error", err)
			httperr.Write(w, err)
		}
	}
}

type issueRequest struct {
	Permissions   string `json:"permissions"`
	ResourceTypes string `json:"resource_types"`
	Services      string `json:"services"`
	Protocol      string `json:"protocol"`
	// ExpiresIn is a Go duration string, e.g. "3m". Ignored if Expiry is set.
	ExpiresIn string     `json:"expires_in"`
	Expiry    *time.Time `json:"expiry"`
	Start     *time.Time `json:"start"`
}

type issueResponse struct {
	ID           db.TokenID `json:"id"`
	Token        string     `json:"token"`
	Expiry       time.Time  `json:"expiry"`
	ContainerURL string     `json:"container_url,omitempty"`
}

func (s *Server) policyFromRequest(req *issueRequest, now time.Time) (sas.Policy, error) {
	var (
		p   sas.Policy
		err error
	)
	if p.Permissions, err = sas.ParsePermissions(req.Permissions); err != nil {
		return sas.Policy{}, err
	}
	if p.ResourceTypes, err = sas.ParseResourceTypes(req.ResourceTypes); err != nil {
		return sas.Policy{}, err
	}
	if req.Services == "" {
		req.Services = "b"
	}
	if p.Services, err = sas.ParseServices(req.Services); err != nil {
		return sas.Policy{}, err
	}
	if req.Protocol == "" {
		req.Protocol = "https"
	}
	if p.Protocol, err = sas.ParseProtocol(req.Protocol); err != nil {
		return sas.Policy{}, err
	}

	switch {
	case req.Expiry != nil:
		p.Expiry = *req.Expiry
	case req.ExpiresIn != "":
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil {
			return sas.Policy{}, &sas.InvalidPolicyError{Field: "expiry", Reason: "expires_in is not a valid duration"}
		}
		p.Expiry = now.Add(d)
	default:
		p.Expiry = now.Add(s.defaultLifetime)
	}
	if p.Expiry.Sub(now) > s.maxLifetime {
		return sas.Policy{}, &sas.InvalidPolicyError{Field: "expiry", Reason: "lifetime exceeds " + s.maxLifetime.String()}
	}
	if req.Start != nil {
		p.Start = *req.Start
	}
	return p, nil
}

func (s *Server) issue(w http.ResponseWriter, r *http.Request) error {
	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return httperr.BadRequest("failed to decode request: %w", err).WithMessage("request body must be JSON")
	}

	now := s.now()
	p, err := s.policyFromRequest(&req, now)
	if err != nil {
		return err
	}

	tok, err := s.issuer.Issue(s.cred, p)
	if err != nil {
		return err
	}

	id, err := s.ledger.RecordIssued(r.Context(), &db.IssuedToken{
		Account:       s.cred.Account,
		Permissions:   p.Permissions.String(),
		ResourceTypes: p.ResourceTypes.String(),
		Services:      p.Services.String(),
		Protocol:      p.Protocol.String(),
		IssuedAt:      now,
		Expiry:        tok.Expiry,
	})
	if err != nil {
		return httperr.Internal("failed to record issued token: %w", err)
	}

	s.logger.Info("issued token",
		"id", id,
		"account", s.cred.Account,
		"permissions", p.Permissions.String(),
		"resource_types", p.ResourceTypes.String(),
		"services", p.Services.String(),
		"expiry", tok.Expiry)

	resp := issueResponse{
		ID:     id,
		Token:  tok.Value,
		Expiry: tok.Expiry,
	}
	if s.container != "" && s.endpoint != "" {
		resp.ContainerURL = s.endpoint + "/" + url.PathEscape(s.container)
	}
	return writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) error {
	id := db.TokenID(r.PathValue("id"))
	tok, err := s.ledger.IssuedToken(r.Context(), id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, toRecord(tok, s.now()))
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) error {
	account := r.URL.Query().Get("account")
	if account == "" {
		account = s.cred.Account
	}
	toks, err := s.ledger.IssuedTokens(r.Context(), account)
	if err != nil {
		return err
	}
	now := s.now()
	out := make([]record, 0, len(toks))
	for _, tok := range toks {
		out = append(out, toRecord(tok, now))
	}
	return writeJSON(w, http.StatusOK, out)
}

type record struct {
	ID            db.TokenID `json:"id"`
	Account       string     `json:"account"`
	Permissions   string     `json:"permissions"`
	ResourceTypes string     `json:"resource_types"`
	Services      string     `json:"services"`
	Protocol      string     `json:"protocol"`
	IssuedAt      time.Time  `json:"issued_at"`
	Expiry        time.Time  `json:"expiry"`
	Expired       bool       `json:"expired"`
}

func toRecord(tok *db.IssuedToken, now time.Time) record {
	return record{
		ID:            tok.ID,
		Account:       tok.Account,
		Permissions:   tok.Permissions,
		ResourceTypes: tok.ResourceTypes,
		Services:      tok.Services,
		Protocol:      tok.Protocol,
		IssuedAt:      tok.IssuedAt,
		Expiry:        tok.Expiry,
		Expired:       (&sas.Token{Expiry: tok.Expiry}).Expired(now),
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) error {
	dat, err := json.Marshal(v)
	if err != nil {
		return httperr.Internal("failed to marshal response: %w", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(dat)
	return nil
}
