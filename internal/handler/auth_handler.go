package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"agroassist-auth/internal/audit"
	"agroassist-auth/internal/config"
	"agroassist-auth/internal/models"
	"agroassist-auth/internal/service"
	"agroassist-auth/internal/token"
	"agroassist-auth/internal/util"
)

const (
	accessCookieName  = "access_token"
	refreshCookieName = "refresh_token"
)

// Response is the standard API envelope.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{Success: true, Data: data, Message: message}
}

func errorResponse(err error, message string) Response {
	return Response{Success: false, Error: err.Error(), Message: message}
}

// AuthHandler exposes the auth flows over HTTP. Tokens travel in
// httpOnly cookies as well as the JSON body, so browser and mobile
// clients can both use the same endpoints.
type AuthHandler struct {
	auth     *service.AuthService
	otp      *service.OTPService
	tokens   *token.Manager
	recorder *audit.Recorder
	cfg      *config.Config
}

func NewAuthHandler(auth *service.AuthService, otp *service.OTPService, tokens *token.Manager, recorder *audit.Recorder, cfg *config.Config) *AuthHandler {
	return &AuthHandler{
		auth:     auth,
		otp:      otp,
		tokens:   tokens,
		recorder: recorder,
		cfg:      cfg,
	}
}

// RegisterRoutes wires the auth endpoints onto the router.
func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/login/phone/request", h.RequestPhoneLoginOTP)
		r.Post("/login/phone/verify", h.PhoneLogin)
		r.Post("/otp/request", h.RequestOTP)
		r.Post("/verify/email", h.VerifyEmail)
		r.Post("/verify/phone", h.VerifyPhone)
		r.Post("/password-reset/request", h.RequestPasswordReset)
		r.Post("/password-reset/confirm", h.ResetPassword)
		r.Post("/refresh", h.Refresh)
		r.Post("/logout", h.Logout)

		r.Group(func(r chi.Router) {
			r.Use(Authenticator(h.tokens))
			r.Get("/me", h.Me)
		})

		r.Group(func(r chi.Router) {
			r.Use(Authenticator(h.tokens))
			r.Use(RequireRole(models.RoleAdmin))
			r.Post("/blocklist", h.BlockIdentifier)
			r.Delete("/blocklist/{identifier}", h.UnblockIdentifier)
			r.Get("/events/{identifier}", h.SecurityEvents)
		})
	})
}

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	Role        string `json:"role"`
	CountryCode string `json:"countryCode"`
	Phone       string `json:"phone"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "invalid request body")
		return
	}

	pair, user, err := h.auth.Register(r.Context(), service.RegisterInput{
		Email:       req.Email,
		Password:    req.Password,
		Role:        models.Role(req.Role),
		CountryCode: req.CountryCode,
		Phone:       req.Phone,
	}, deviceFrom(r))
	if err != nil {
		h.respondWithError(w, h.statusCode(err), err, "registration failed")
		return
	}

	h.setAuthCookies(w, pair)
	h.respondWithJSON(w, http.StatusCreated, successResponse(map[string]interface{}{
		"user":   publicUser(user),
		"tokens": pair,
	}, "account created"))
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "invalid request body")
		return
	}

	pair, user, err := h.auth.Login(r.Context(), req.Email, req.Password, deviceFrom(r))
	if err != nil {
		h.respondWithError(w, h.statusCode(err), err, "login failed")
		return
	}

	h.setAuthCookies(w, pair)
	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]interface{}{
		"user":   publicUser(user),
		"tokens": pair,
	}, "logged in"))
}

type phoneOTPRequest struct {
	Phone string `json:"phone"`
}

func (h *AuthHandler) RequestPhoneLoginOTP(w http.ResponseWriter, r *http.Request) {
	var req phoneOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "invalid request body")
		return
	}

	result, err := h.auth.RequestPhoneOTP(r.Context(), req.Phone, models.PurposeLogin)
	if err != nil {
		h.respondWithError(w, h.statusCode(err), err, "could not send code")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(result, "code sent if the number is registered"))
}

type phoneLoginRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

func (h *AuthHandler) PhoneLogin(w http.ResponseWriter, r *http.Request) {
	var req phoneLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "invalid request body")
		return
	}

	pair, user, err := h.auth.PhoneLogin(r.Context(), req.Phone, req.Code, deviceFrom(r))
	if err != nil {
		h.respondWithError(w, h.statusCode(err), err, "login failed")
		return
	}

	h.setAuthCookies(w, pair)
	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]interface{}{
		"user":   publicUser(user),
		"tokens": pair,
	}, "logged in"))
}

type otpRequest struct {
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Purpose string `json:"purpose"`
}

func (h *AuthHandler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "invalid request body")
		return
	}
	purpose, err := models.ParseOTPPurpose(req.Purpose)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, service.ErrInvalidInput, "unknown purpose")
		return
	}

	var result *models.OTPDeliveryResult
	switch {
	case req.Email != "":
		result, err = h.auth.RequestEmailOTP(r.Context(), req.Email, purpose)
	case req.Phone != "":
		result, err = h.auth.RequestPhoneOTP(r.Context(), req.Phone, purpose)
	default:
		h.respondWithError(w, http.StatusBadRequest, service.ErrInvalidInput, "email or phone required")
		return
	}
	if err != nil {
		h.respondWithError(w, h.statusCode(err), err, "could not send code")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(result, "code sent if the identifier is registered"))
}

type verifyRequest struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
	Code  string `json:"code"`
}

func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "invalid request body")
		return
	}
	if err := h.auth.VerifyEmail(r.Context(), req.Email, req.Code); err != nil {
		h.respondWithError(w, h.statusCode(err), err, "verification failed")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "email verified"))
}

func (h *AuthHandler) VerifyPhone(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "invalid request body")
		return
	}
	if err := h.auth.VerifyPhone(r.Context(), req.Phone, req.Code); err != nil {
		h.respondWithError(w, h.statusCode(err), err, "verification failed")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "phone verified"))
}

type passwordResetRequest struct {
	Email string `json:"email"`
}

func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req passwordResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "invalid request body")
		return
	}

	result, err := h.auth.RequestPasswordReset(r.Context(), req.Email)
	if err != nil {
		h.respondWithError(w, h.statusCode(err), err, "could not send code")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(result, "code sent if the address is registered"))
}

type passwordResetConfirm struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"newPassword"`
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req passwordResetConfirm
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "invalid request body")
		return
	}

	if err := h.auth.ResetPassword(r.Context(), req.Email, req.Code, req.NewPassword); err != nil {
		h.respondWithError(w, h.statusCode(err), err, "password reset failed")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "password updated"))
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// refreshTokenFrom prefers the cookie and falls back to the body.
func refreshTokenFrom(r *http.Request) string {
	if cookie, err := r.Cookie(refreshCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
		return req.RefreshToken
	}
	return ""
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	refreshToken := refreshTokenFrom(r)
	if refreshToken == "" {
		h.respondWithError(w, http.StatusUnauthorized, service.ErrInvalidToken, "missing refresh token")
		return
	}

	pair, err := h.auth.Refresh(r.Context(), refreshToken)
	if err != nil {
		h.respondWithError(w, h.statusCode(err), err, "refresh failed")
		return
	}

	h.setAuthCookies(w, pair)
	h.respondWithJSON(w, http.StatusOK, successResponse(pair, "token refreshed"))
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	refreshToken := refreshTokenFrom(r)
	if refreshToken != "" {
		if err := h.auth.Logout(r.Context(), refreshToken); err != nil {
			h.respondWithError(w, h.statusCode(err), err, "logout failed")
			return
		}
	}
	h.clearAuthCookies(w)
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "logged out"))
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFrom(r.Context())
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, service.ErrInvalidToken, "not authenticated")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]interface{}{
		"userId": claims.UserID,
		"email":  claims.Email,
		"role":   claims.Role,
	}, ""))
}

type blockRequest struct {
	Identifier string `json:"identifier"`
	Reason     string `json:"reason"`
}

func (h *AuthHandler) BlockIdentifier(w http.ResponseWriter, r *http.Request) {
	var req blockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Identifier == "" {
		h.respondWithError(w, http.StatusBadRequest, service.ErrInvalidInput, "identifier required")
		return
	}
	if err := h.otp.Block(r.Context(), req.Identifier, util.SanitizeInput(req.Reason)); err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err, "block failed")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "identifier blocked"))
}

func (h *AuthHandler) UnblockIdentifier(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")
	if err := h.otp.Unblock(r.Context(), identifier); err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err, "unblock failed")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "identifier unblocked"))
}

func (h *AuthHandler) SecurityEvents(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")
	events, err := h.recorder.Search(r.Context(), identifier, 50)
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err, "event lookup failed")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(events, ""))
}

// publicUser strips security fields from the wire representation.
func publicUser(user *models.User) map[string]interface{} {
	return map[string]interface{}{
		"userId":          user.UserID,
		"email":           user.Email,
		"role":            user.Role,
		"countryCode":     user.CountryCode,
		"isEmailVerified": user.IsEmailVerified,
		"isPhoneVerified": user.IsPhoneVerified,
		"createdAt":       user.CreatedAt,
	}
}

// setAuthCookies stores both tokens with lifetimes matching the tokens
// themselves. The access cookie spans the API; the refresh cookie is
// scoped to the auth routes. Secure and strict SameSite are relaxed
// outside production so local HTTP development works.
func (h *AuthHandler) setAuthCookies(w http.ResponseWriter, pair *service.TokenPair) {
	sameSite := http.SameSiteStrictMode
	if h.cfg.IsDevelopment() {
		sameSite = http.SameSiteLaxMode
	}
	http.SetCookie(w, &http.Cookie{
		Name:     accessCookieName,
		Value:    pair.AccessToken,
		Path:     "/",
		MaxAge:   int(pair.ExpiresIn),
		HttpOnly: true,
		Secure:   h.cfg.IsProduction(),
		SameSite: sameSite,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    pair.RefreshToken,
		Path:     "/api/v1/auth",
		MaxAge:   int(pair.RefreshExpiresIn),
		HttpOnly: true,
		Secure:   h.cfg.IsProduction(),
		SameSite: sameSite,
	})
}

func (h *AuthHandler) clearAuthCookies(w http.ResponseWriter) {
	for _, c := range []struct{ name, path string }{
		{accessCookieName, "/"},
		{refreshCookieName, "/api/v1/auth"},
	} {
		http.SetCookie(w, &http.Cookie{
			Name:     c.name,
			Value:    "",
			Path:     c.path,
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   h.cfg.IsProduction(),
		})
	}
}

// statusCode maps service sentinels onto HTTP statuses. Unknown errors
// become 500 and the client sees a generic message.
func (h *AuthHandler) statusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrInvalidOrExpiredOTP),
		errors.Is(err, service.ErrInvalidToken),
		errors.Is(err, service.ErrSessionNotFound):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrAccountLocked):
		return http.StatusLocked
	case errors.Is(err, service.ErrOTPBlocked):
		return http.StatusForbidden
	case errors.Is(err, service.ErrDuplicateEmail),
		errors.Is(err, service.ErrDuplicatePhone):
		return http.StatusConflict
	case errors.Is(err, service.ErrOTPThrottled):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (h *AuthHandler) respondWithJSON(w http.ResponseWriter, status int, payload Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		util.Error("failed to encode response", util.ErrorField(err))
	}
}

func (h *AuthHandler) respondWithError(w http.ResponseWriter, status int, err error, message string) {
	if status >= http.StatusInternalServerError {
		util.Error("request failed", util.ErrorField(err))
		err = errors.New("internal error")
	}
	h.respondWithJSON(w, status, errorResponse(err, message))
}

func deviceFrom(r *http.Request) models.DeviceInfo {
	return models.DeviceInfo{
		UserAgent: r.UserAgent(),
		IP:        clientIP(r),
	}
}

func clientIP(r *http.Request) string {
	// chi's RealIP middleware rewrites RemoteAddr from X-Forwarded-For.
	host := r.RemoteAddr
	if i := lastColon(host); i >= 0 {
		host = host[:i]
	}
	return host
}

func lastColon(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return i
		}
	}
	return -1
}
