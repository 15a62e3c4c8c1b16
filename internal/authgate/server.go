package authgate

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	corslib "github.com/rs/cors"
	"golang.org/x/time/rate"

	"reobot/pkg/logx"
)

const CookieName = "reo_auth_session"

type Options struct {
	Addr        string
	WebRoot     string
	Whitelist   Whitelist
	Signer      Signer
	Mailer      Mailer
	Codes       *CodeStore
	Limiter     *Limiter
	Sessions    *Sessions
	CORSOrigins []string
	// SecureCookie sets the Secure flag; turn it off only for plain-HTTP
	// local runs.
	SecureCookie bool
	// IPRate and IPBurst bound code requests per client address.
	IPRate  rate.Limit
	IPBurst int
	Log     logx.Logger
}

type Server struct {
	opt Options
	log logx.Logger
}

func New(opt Options) *Server {
	if opt.Log.IsZero() {
		opt.Log = logx.Nop()
	}
	if opt.Sessions == nil {
		opt.Sessions = NewSessions(opt.Signer.TTL, opt.Signer.now)
	}
	if opt.IPRate == 0 {
		opt.IPRate = rate.Every(6 * time.Second)
	}
	if opt.IPBurst <= 0 {
		opt.IPBurst = 10
	}
	return &Server{opt: opt, log: opt.Log}
}

var assetRe = regexp.MustCompile(`(?i)^[\w./-]+\.(png|jpg|jpeg|gif|ico|css|js)$`)

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	if len(s.opt.CORSOrigins) > 0 {
		c := corslib.New(corslib.Options{
			AllowedOrigins:   s.opt.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: true,
		})
		r.Use(c.Handler)
	}

	r.Get("/", s.index)
	r.Get("/health", s.health)
	r.Get("/logout", s.logout)
	r.Group(func(r chi.Router) {
		r.Use(ipRateLimit(s.opt.IPRate, s.opt.IPBurst))
		r.Post("/request-otp", s.requestOTP)
		r.Post("/verify-otp", s.verifyOTP)
	})
	r.Get("/static/*", func(w http.ResponseWriter, req *http.Request) {
		s.serveFile(w, req, chi.URLParam(req, "*"))
	})
	r.Get("/{file}", func(w http.ResponseWriter, req *http.Request) {
		name := chi.URLParam(req, "file")
		if !assetRe.MatchString(name) {
			http.NotFound(w, req)
			return
		}
		s.serveFile(w, req, name)
	})
	return r
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opt.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("auth gateway listening", logx.String("addr", s.opt.Addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Authenticated returns the session email, or "" when the request carries
// no valid live session.
func (s *Server) Authenticated(r *http.Request) string {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return ""
	}
	email, err := s.opt.Signer.Parse(c.Value)
	if err != nil || !s.opt.Sessions.Has(c.Value) {
		return ""
	}
	return email
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	page := "login.html"
	if s.Authenticated(r) != "" {
		page = "index.html"
	}
	w.Header().Set("Cache-Control", "no-store")
	s.serveFile(w, r, page)
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, name string) {
	root, err := filepath.Abs(s.opt.WebRoot)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	p := filepath.Join(root, filepath.FromSlash(filepath.Clean("/"+name)))
	if !strings.HasPrefix(p, root+string(filepath.Separator)) {
		http.NotFound(w, r)
		return
	}
	if st, err := os.Stat(p); err != nil || st.IsDir() {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, p)
}

type result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type otpRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func decodeOTPRequest(w http.ResponseWriter, r *http.Request) (otpRequest, error) {
	var req otpRequest
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req)
	req.Email = normalizeEmail(req.Email)
	req.Code = strings.TrimSpace(req.Code)
	return req, err
}

func (s *Server) requestOTP(w http.ResponseWriter, r *http.Request) {
	req, err := decodeOTPRequest(w, r)
	if err != nil || req.Email == "" || !strings.Contains(req.Email, "@") {
		writeJSON(w, http.StatusOK, result{Message: "Invalid email address"})
		return
	}
	ok, err := s.opt.Whitelist.Allowed(req.Email)
	if err != nil {
		s.log.Error("whitelist unreadable", logx.Err(err))
	}
	if !ok {
		s.authEvent("OTP_REQUEST", req.Email, false, "email not whitelisted")
		writeJSON(w, http.StatusOK, result{Message: "Email not authorized. Please contact an administrator."})
		return
	}
	if err := s.opt.Limiter.Allow(req.Email); err != nil {
		s.authEvent("OTP_REQUEST", req.Email, false, "rate limit exceeded")
		writeJSON(w, http.StatusTooManyRequests, result{Message: "Too many requests. Please try again later."})
		return
	}
	code, err := GenerateCode()
	if err != nil {
		s.log.Error("code generation failed", logx.Err(err))
		writeJSON(w, http.StatusInternalServerError, result{Message: "An error occurred. Please try again."})
		return
	}
	s.opt.Codes.Put(req.Email, code)
	if err := s.opt.Mailer.SendCode(r.Context(), req.Email, code); err != nil {
		s.authEvent("OTP_SEND_FAILED", req.Email, false, err.Error())
		writeJSON(w, http.StatusOK, result{Message: "Failed to send email. Please try again."})
		return
	}
	s.authEvent("OTP_SENT", req.Email, true, "")
	writeJSON(w, http.StatusOK, result{Success: true, Message: "Check your email for the login code"})
}

func (s *Server) verifyOTP(w http.ResponseWriter, r *http.Request) {
	req, err := decodeOTPRequest(w, r)
	if err != nil {
		writeJSON(w, http.StatusOK, result{Message: "Invalid or expired code"})
		return
	}
	switch err := s.opt.Codes.Verify(req.Email, req.Code); {
	case errors.Is(err, ErrNoCode):
		s.authEvent("OTP_VERIFY", req.Email, false, "no code found")
		writeJSON(w, http.StatusOK, result{Message: "Invalid or expired code"})
		return
	case errors.Is(err, ErrCodeExpired):
		s.authEvent("OTP_VERIFY", req.Email, false, "code expired")
		writeJSON(w, http.StatusOK, result{Message: "Code expired. Please request a new one."})
		return
	case err != nil:
		s.authEvent("OTP_VERIFY", req.Email, false, "invalid code")
		writeJSON(w, http.StatusOK, result{Message: "Invalid code. Please try again."})
		return
	}

	token := s.opt.Signer.Issue(req.Email)
	s.opt.Sessions.Add(token)
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.opt.Signer.TTL / time.Second),
		Secure:   s.opt.SecureCookie,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	s.authEvent("LOGIN_SUCCESS", req.Email, true, "session created")
	writeJSON(w, http.StatusOK, result{Success: true, Message: "Login successful"})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(CookieName); err == nil {
		if email, err := s.opt.Signer.Parse(c.Value); err == nil && s.opt.Sessions.Has(c.Value) {
			s.opt.Sessions.Remove(c.Value)
			s.authEvent("LOGOUT", email, true, "session destroyed")
		}
	}
	http.SetCookie(w, &http.Cookie{Name: CookieName, Value: "", Path: "/", MaxAge: -1})
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) authEvent(kind, email string, ok bool, detail string) {
	fields := []logx.Field{logx.String("event", kind), logx.String("email", email), logx.Bool("ok", ok)}
	if detail != "" {
		fields = append(fields, logx.String("detail", detail))
	}
	if ok {
		s.log.Info("auth event", fields...)
	} else {
		s.log.Warn("auth event", fields...)
	}
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			logx.String("rid", middleware.GetReqID(r.Context())),
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("dur", time.Since(start)),
		)
	})
}

// ipIdle is how long a client address may stay silent before its bucket
// is dropped. A full bucket refills well within it.
const ipIdle = 10 * time.Minute

type ipEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

// ipLimiters holds one token bucket per client address and sweeps idle ones.
type ipLimiters struct {
	mu    sync.Mutex
	limit rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time
	swept time.Time
	m     map[string]*ipEntry
}

func newIPLimiters(limit rate.Limit, burst int, idle time.Duration, now func() time.Time) *ipLimiters {
	if now == nil {
		now = time.Now
	}
	return &ipLimiters{limit: limit, burst: burst, idle: idle, now: now, m: map[string]*ipEntry{}}
}

func (l *ipLimiters) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Sub(l.swept) >= l.idle {
		for k, e := range l.m {
			if now.Sub(e.seen) >= l.idle {
				delete(l.m, k)
			}
		}
		l.swept = now
	}
	e, ok := l.m[ip]
	if !ok {
		e = &ipEntry{lim: rate.NewLimiter(l.limit, l.burst)}
		l.m[ip] = e
	}
	e.seen = now
	return e.lim.AllowN(now, 1)
}

func (l *ipLimiters) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}

// ipRateLimit is a token bucket per client address.
func ipRateLimit(limit rate.Limit, burst int) func(http.Handler) http.Handler {
	return ipRateLimitWith(newIPLimiters(limit, burst, ipIdle, nil))
}

func ipRateLimitWith(limiters *ipLimiters) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil || ip == "" {
				ip = r.RemoteAddr
			}
			if !limiters.allow(ip) {
				w.Header().Set("Retry-After", "60")
				writeJSON(w, http.StatusTooManyRequests, result{Message: "Too many requests. Please try again later."})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
