package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"

	"wikimport/internal/config"
	"wikimport/internal/database"
	"wikimport/internal/middleware"
	"wikimport/internal/models"
	"wikimport/internal/services"
)

// Handlers contains all API request handlers.
type Handlers struct {
	db       *database.DB
	config   *config.Config
	accounts *services.AccountService
	wiki     *services.WikiService
	imports  *services.ImportService
	logins   *middleware.Lockout
}

// NewHandlers creates a new API handlers instance.
func NewHandlers(
	db *database.DB,
	cfg *config.Config,
	accounts *services.AccountService,
	wiki *services.WikiService,
	imports *services.ImportService,
	logins *middleware.Lockout,
) *Handlers {
	return &Handlers{
		db:       db,
		config:   cfg,
		accounts: accounts,
		wiki:     wiki,
		imports:  imports,
		logins:   logins,
	}
}

// Response helpers

type successResponse struct {
	Data any `json:"data"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
	Data  any    `json:"data,omitempty"`
}

type paginatedResponse struct {
	Data   any `json:"data"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func success(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, successResponse{Data: data})
}

func created(c echo.Context, data any) error {
	return c.JSON(http.StatusCreated, successResponse{Data: data})
}

func paginated(c echo.Context, data any, total, limit, offset int) error {
	return c.JSON(http.StatusOK, paginatedResponse{
		Data:   data,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// Health reports whether the database answers.
func (h *Handlers) Health(c echo.Context) error {
	if err := h.db.HealthCheck(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable").SetInternal(err)
	}
	return success(c, map[string]string{"status": "ok"})
}

// statsResponse summarizes the target wiki and where its content came from.
type statsResponse struct {
	Pages  int                  `json:"pages"`
	Users  int                  `json:"users"`
	Source *services.SourceInfo `json:"source"`
}

// Stats reports page and account totals with the source of the latest import.
func (h *Handlers) Stats(c echo.Context) error {
	ctx := c.Request().Context()

	pages, err := h.db.CountPages(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to count pages").SetInternal(err)
	}
	users, err := h.db.CountUsers(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to count users").SetInternal(err)
	}
	source, err := h.imports.Source(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to get import source").SetInternal(err)
	}

	return success(c, statsResponse{Pages: pages, Users: users, Source: source})
}

// Auth handlers

// LoginRequest represents a login request.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenResponse carries a freshly issued access token.
type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Login authenticates a user and returns a JWT access token.
func (h *Handlers) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if req.Username == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "username and password are required")
	}

	clientIP := c.RealIP()
	if ok, wait := h.logins.Allowed(clientIP); !ok {
		c.Response().Header().Set("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
		return echo.NewHTTPError(http.StatusTooManyRequests, "too many failed login attempts")
	}

	user, err := h.accounts.Authenticate(c.Request().Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, services.ErrInvalidCredentials), errors.Is(err, services.ErrUserInactive):
		h.logins.Fail(clientIP)
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, "authentication failed").SetInternal(err)
	}
	h.logins.Reset(clientIP)

	expiry := h.config.Security.JWTAccessExpiry
	token, err := GenerateJWT(user, h.config.Security.SecretKey, expiry)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to generate token").SetInternal(err)
	}

	return c.JSON(http.StatusOK, TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   time.Now().Add(expiry),
	})
}

// GetCurrentUser returns the current authenticated user.
func (h *Handlers) GetCurrentUser(c echo.Context) error {
	user := middleware.GetUser(c)
	if user == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return success(c, user)
}

// Import handlers

// CreateImport runs an import over the dump uploaded in the "dump" form
// field and answers with the report once the pass is over.
func (h *Handlers) CreateImport(c echo.Context) error {
	if !middleware.CanImport(c) {
		return echo.NewHTTPError(http.StatusForbidden, "insufficient permissions")
	}
	user := middleware.GetUser(c)

	limit := h.config.Upload.MaxDumpSize
	req := c.Request()
	req.Body = http.MaxBytesReader(c.Response(), req.Body, limit+1<<20)

	fh, err := c.FormFile("dump")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return dumpTooLarge(limit)
		}
		return echo.NewHTTPError(http.StatusBadRequest, "multipart field \"dump\" is required")
	}
	if fh.Size > limit {
		return dumpTooLarge(limit)
	}

	src, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read dump").SetInternal(err)
	}
	defer src.Close()

	userID := user.ID
	result, err := h.imports.Import(req.Context(), src, fh.Filename, &userID)
	if err != nil {
		if result == nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "import failed").SetInternal(err)
		}
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{
			Error: err.Error(),
			Code:  http.StatusUnprocessableEntity,
			Data:  result,
		})
	}

	return created(c, result)
}

func dumpTooLarge(limit int64) error {
	return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
		"dump exceeds the "+humanize.IBytes(uint64(limit))+" limit")
}

// importRunResponse is a run record with its stored report inlined.
type importRunResponse struct {
	*models.ImportRun
	Report json.RawMessage `json:"report,omitempty"`
}

// GetImport returns one recorded import run with its report.
func (h *Handlers) GetImport(c echo.Context) error {
	run, err := h.imports.GetRun(c.Request().Context(), c.Param("id"))
	if errors.Is(err, services.ErrImportNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "import not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to get import").SetInternal(err)
	}

	resp := importRunResponse{ImportRun: run}
	if run.Report != "" && json.Valid([]byte(run.Report)) {
		resp.Report = json.RawMessage(run.Report)
	}
	return success(c, resp)
}

// ListImports returns the most recent import runs.
func (h *Handlers) ListImports(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	runs, err := h.imports.ListRuns(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list imports").SetInternal(err)
	}
	return success(c, runs)
}

// Page handlers

// ListPages returns a paginated list of pages.
func (h *Handlers) ListPages(c echo.Context) error {
	filter := models.NewPageFilter()

	if limit := c.QueryParam("limit"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil && l > 0 && l <= 100 {
			filter.Limit = l
		}
	}
	if offset := c.QueryParam("offset"); offset != "" {
		if o, err := strconv.Atoi(offset); err == nil && o >= 0 {
			filter.Offset = o
		}
	}
	filter.Wiki = c.QueryParam("wiki")
	filter.Space = c.QueryParam("space")
	filter.Tag = c.QueryParam("tag")
	if orderBy := c.QueryParam("order_by"); orderBy != "" {
		filter.OrderBy = orderBy
	}
	if orderDir := c.QueryParam("order_dir"); orderDir != "" {
		filter.OrderDir = orderDir
	}

	ctx := c.Request().Context()
	pages, err := h.wiki.ListPages(ctx, filter)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list pages").SetInternal(err)
	}

	total, err := h.db.CountPages(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to count pages").SetInternal(err)
	}

	return paginated(c, pages, total, filter.Limit, filter.Offset)
}

// GetPage returns a single page by slug. Slugs carry the space, so the route
// matches the rest of the path.
func (h *Handlers) GetPage(c echo.Context) error {
	slug := c.Param("*")
	if slug == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "slug is required")
	}

	page, err := h.wiki.GetPage(c.Request().Context(), slug)
	if errors.Is(err, services.ErrPageNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "page not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to get page").SetInternal(err)
	}

	return success(c, page)
}

// ListTags returns all tags.
func (h *Handlers) ListTags(c echo.Context) error {
	tags, err := h.wiki.GetAllTags(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list tags").SetInternal(err)
	}

	return success(c, tags)
}

// Search performs a text search over titles and content.
func (h *Handlers) Search(c echo.Context) error {
	query := c.QueryParam("q")
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "search query is required")
	}

	limit := 20
	if l := c.QueryParam("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	results, err := h.wiki.Search(c.Request().Context(), query, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "search failed").SetInternal(err)
	}

	return success(c, results)
}
