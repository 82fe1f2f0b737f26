package handlers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"handmade/internal/cache"
	"handmade/internal/catalog"
	"handmade/internal/handlers"
	"handmade/internal/ingest"
	"handmade/internal/middleware"
	"handmade/internal/models"
	"handmade/internal/realtime"
	"handmade/internal/repositories"
	"handmade/internal/services"
	"handmade/internal/similar"
	"handmade/internal/store"

	fastws "github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const testJWTSecret = "test_jwt_secret"

type testEnv struct {
	app      *fiber.App
	broker   *realtime.Broker
	registry *catalog.Registry
}

// setupApp sets up a Fiber app backed by a throwaway SQLite file with every handler wired.
func setupApp(t *testing.T) *fiber.App {
	t.Helper()
	return setupEnv(t).app
}

func setupEnv(t *testing.T) testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Product{}, &models.User{}))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	productRepo := repositories.NewGORMProductRepository(db)
	userRepo := repositories.NewGORMUserRepository(db)

	broker := realtime.NewBroker()
	st := store.New(productRepo, broker)
	authService := services.NewAuthService(userRepo, testJWTSecret)
	listing := services.NewListingService(st, cache.Noop{})
	registry := catalog.NewRegistry(st, ingest.NewPipeline(ingest.DefaultOptions()), catalog.ContextIdentity)

	app := fiber.New(fiber.Config{BodyLimit: 16 << 20})
	apiV1 := app.Group("/api/v1")
	handlers.NewAuthHandler(authService).RegisterRoutes(apiV1)
	handlers.NewProductHandler(listing, st, similar.NewClient("http://127.0.0.1:1", 0)).RegisterRoutes(apiV1)

	seller := apiV1.Group("/seller", middleware.AuthRequired(authService))
	handlers.NewSellerHandler(registry, st).RegisterRoutes(seller)
	handlers.NewEditHandler(registry, st).RegisterRoutes(seller)

	return testEnv{app: app, broker: broker, registry: registry}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type upload struct {
	name string
	data []byte
}

func multipartBody(t *testing.T, fields map[string]string, files ...upload) (io.Reader, string) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	for _, f := range files {
		part, err := w.CreateFormFile("images", f.name)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &body, w.FormDataContentType()
}

func doJSON(t *testing.T, app *fiber.App, method, path, token string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return do(t, app, req, token)
}

func doMultipart(t *testing.T, app *fiber.App, method, path, token string, fields map[string]string, files ...upload) (*http.Response, map[string]interface{}) {
	t.Helper()
	body, contentType := multipartBody(t, fields, files...)
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", contentType)
	return do(t, app, req, token)
}

func do(t *testing.T, app *fiber.App, req *http.Request, token string) (*http.Response, map[string]interface{}) {
	t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp, out
}

func registerAndLogin(t *testing.T, app *fiber.App, email string) string {
	t.Helper()
	creds := map[string]string{"email": email, "password": "password123"}

	resp, body := doJSON(t, app, http.MethodPost, "/api/v1/auth/register", "", creds)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)

	resp, body = doJSON(t, app, http.MethodPost, "/api/v1/auth/login", "", creds)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func createProduct(t *testing.T, app *fiber.App, token, title string, images int) map[string]interface{} {
	t.Helper()
	files := make([]upload, images)
	for i := range files {
		files[i] = upload{name: fmt.Sprintf("photo%d.png", i), data: pngBytes(t, 40+i, 30)}
	}
	resp, body := doMultipart(t, app, http.MethodPost, "/api/v1/seller/products", token,
		map[string]string{"title": title, "description": "Hand thrown stoneware", "price": "25.5"}, files...)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	assert.Equal(t, "Product added successfully!", body["message"])
	product, ok := body["product"].(map[string]interface{})
	require.True(t, ok)
	return product
}

func images(v interface{}) []interface{} {
	list, _ := v.([]interface{})
	return list
}

func TestAuthRegisterAndLogin(t *testing.T) {
	app := setupApp(t)
	token := registerAndLogin(t, app, "maker@example.com")
	assert.NotEmpty(t, token)

	// duplicate email
	resp, _ := doJSON(t, app, http.MethodPost, "/api/v1/auth/register", "",
		map[string]string{"email": "Maker@example.com", "password": "password123"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodPost, "/api/v1/auth/login", "",
		map[string]string{"email": "maker@example.com", "password": "wrongpassword"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSellerRoutesRequireToken(t *testing.T) {
	app := setupApp(t)

	resp, _ := doJSON(t, app, http.MethodGet, "/api/v1/seller/products", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = doMultipart(t, app, http.MethodPost, "/api/v1/seller/products", "",
		map[string]string{"title": "Mug", "price": "10"}, upload{name: "a.png", data: pngBytes(t, 10, 10)})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateAndListProducts(t *testing.T) {
	app := setupApp(t)
	token := registerAndLogin(t, app, "maker@example.com")

	product := createProduct(t, app, token, "Stoneware mug", 2)
	assert.NotEmpty(t, product["id"])
	assert.Equal(t, "Stoneware mug", product["title"])
	assert.Equal(t, 25.5, product["price"])
	assert.Equal(t, models.StatusActive, product["status"])
	require.Len(t, images(product["images"]), 2)
	assert.Contains(t, images(product["images"])[0], "data:image/jpeg;base64,")

	createProduct(t, app, token, "Woven basket", 1)

	// seller list, newest first
	req := httptest.NewRequest(http.MethodGet, "/api/v1/seller/products", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var mine []models.Product
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&mine))
	resp.Body.Close()
	require.Len(t, mine, 2)
	assert.Equal(t, "Woven basket", mine[0].Title)

	// public search
	req = httptest.NewRequest(http.MethodGet, "/api/v1/products?search=MUG", nil)
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var found []models.Product
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&found))
	resp.Body.Close()
	require.Len(t, found, 1)
	assert.Equal(t, "Stoneware mug", found[0].Title)

	resp, body := doJSON(t, app, http.MethodGet, "/api/v1/products/"+product["id"].(string), "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Stoneware mug", body["title"])
}

func TestCreateProductValidation(t *testing.T) {
	app := setupApp(t)
	token := registerAndLogin(t, app, "maker@example.com")

	resp, body := doMultipart(t, app, http.MethodPost, "/api/v1/seller/products", token,
		map[string]string{"title": "  ", "price": "5"}, upload{name: "a.png", data: pngBytes(t, 10, 10)})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["errors"], "title")

	resp, body = doMultipart(t, app, http.MethodPost, "/api/v1/seller/products", token,
		map[string]string{"title": "Mug", "price": "5"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["errors"], "images")

	resp, _ = doMultipart(t, app, http.MethodPost, "/api/v1/seller/products", token,
		map[string]string{"title": "Mug", "price": "5"}, upload{name: "notes.txt", data: []byte("plain text, not an image")})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doMultipart(t, app, http.MethodPost, "/api/v1/seller/products", token,
		map[string]string{"title": "Mug", "price": "abc"}, upload{name: "a.png", data: pngBytes(t, 10, 10)})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEditFlow(t *testing.T) {
	app := setupApp(t)
	token := registerAndLogin(t, app, "maker@example.com")
	product := createProduct(t, app, token, "Stoneware mug", 2)
	id := product["id"].(string)
	originals := images(product["images"])

	resp, body := doJSON(t, app, http.MethodGet, "/api/v1/seller/edit", token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, body)

	resp, body = doJSON(t, app, http.MethodPost, "/api/v1/seller/products/"+id+"/edit", token, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	assert.Equal(t, id, body["productId"])
	assert.Len(t, images(body["images"]), 2)

	resp, body = doMultipart(t, app, http.MethodPost, "/api/v1/seller/edit/images", token, nil,
		upload{name: "new1.png", data: pngBytes(t, 20, 20)},
		upload{name: "new2.png", data: pngBytes(t, 22, 20)})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	session := body["session"].(map[string]interface{})
	entries := images(session["images"])
	require.Len(t, entries, 4)

	previewID, _ := entries[2].(map[string]interface{})["previewId"].(string)
	require.NotEmpty(t, previewID)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/seller/edit/previews/"+previewID, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get(fiber.HeaderContentType))
	resp.Body.Close()

	resp, body = doJSON(t, app, http.MethodDelete, "/api/v1/seller/edit/images/0", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Len(t, images(body["images"]), 3)

	resp, _ = doJSON(t, app, http.MethodDelete, "/api/v1/seller/edit/images/9", token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	price := 30.0
	resp, body = doJSON(t, app, http.MethodPatch, "/api/v1/seller/edit", token, catalog.DraftProduct{
		Title:       "Glazed stoneware mug",
		Description: "Hand thrown, glazed",
		Price:       &price,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	resp, body = doJSON(t, app, http.MethodPost, "/api/v1/seller/edit/save", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "Product updated successfully!", body["message"])
	saved := body["product"].(map[string]interface{})
	assert.Equal(t, id, saved["id"])
	assert.Equal(t, "Glazed stoneware mug", saved["title"])
	assert.Equal(t, 30.0, saved["price"])
	savedImages := images(saved["images"])
	require.Len(t, savedImages, 3)
	assert.Equal(t, originals[1], savedImages[0])

	// the session is released after a successful save
	resp, _ = doJSON(t, app, http.MethodGet, "/api/v1/seller/edit", token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEditOtherSellersProductIsForbidden(t *testing.T) {
	app := setupApp(t)
	owner := registerAndLogin(t, app, "owner@example.com")
	other := registerAndLogin(t, app, "other@example.com")
	product := createProduct(t, app, owner, "Stoneware mug", 1)
	id := product["id"].(string)

	resp, _ := doJSON(t, app, http.MethodPost, "/api/v1/seller/products/"+id+"/edit", other, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodDelete, "/api/v1/seller/products/"+id+"?confirm=true", other, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodPost, "/api/v1/seller/products/missing/edit", owner, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteProduct(t *testing.T) {
	app := setupApp(t)
	token := registerAndLogin(t, app, "maker@example.com")
	product := createProduct(t, app, token, "Stoneware mug", 1)
	id := product["id"].(string)

	resp, body := doJSON(t, app, http.MethodDelete, "/api/v1/seller/products/"+id, token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)

	resp, body = doJSON(t, app, http.MethodDelete, "/api/v1/seller/products/"+id+"?confirm=true", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "Product deleted successfully!", body["message"])

	resp, _ = doJSON(t, app, http.MethodGet, "/api/v1/products/"+id, "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// listen serves app on a random local port until the test ends.
func listen(t *testing.T, app *fiber.App) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go app.Listener(ln)
	t.Cleanup(func() { app.ShutdownWithTimeout(time.Second) })
	return ln.Addr().String()
}

type streamFrame struct {
	Type     string           `json:"type"`
	Products []models.Product `json:"products"`
	Error    string           `json:"error"`
}

func readFrame(t *testing.T, conn *fastws.Conn) streamFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var frame streamFrame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestSellerStream(t *testing.T) {
	env := setupEnv(t)
	token := registerAndLogin(t, env.app, "maker@example.com")
	other := registerAndLogin(t, env.app, "other@example.com")
	createProduct(t, env.app, token, "Stoneware mug", 1)
	addr := listen(t, env.app)

	streamURL := "ws://" + addr + "/api/v1/seller/products/stream?token=" + url.QueryEscape(token)
	conn, _, err := fastws.DefaultDialer.Dial(streamURL, nil)
	require.NoError(t, err)

	frame := readFrame(t, conn)
	assert.Equal(t, "snapshot", frame.Type)
	require.Len(t, frame.Products, 1)
	assert.Equal(t, "Stoneware mug", frame.Products[0].Title)
	assert.Equal(t, 1, env.broker.ListenerCount())
	assert.Equal(t, 1, env.registry.Len())

	// another seller's product never shows up; the caller's next one does
	createProduct(t, env.app, other, "Woven basket", 1)
	createProduct(t, env.app, token, "Glazed bowl", 1)
	for frame = readFrame(t, conn); len(frame.Products) < 2; frame = readFrame(t, conn) {
		for _, p := range frame.Products {
			assert.NotEqual(t, "Woven basket", p.Title)
		}
	}
	require.Len(t, frame.Products, 2)
	assert.Equal(t, "Glazed bowl", frame.Products[0].Title)
	assert.Equal(t, "Stoneware mug", frame.Products[1].Title)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return env.broker.ListenerCount() == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return env.registry.Len() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestSellerStreamRequiresToken(t *testing.T) {
	env := setupEnv(t)
	addr := listen(t, env.app)

	_, resp, err := fastws.DefaultDialer.Dial("ws://"+addr+"/api/v1/seller/products/stream", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, env.broker.ListenerCount())
}

func TestPublicStream(t *testing.T) {
	env := setupEnv(t)
	token := registerAndLogin(t, env.app, "maker@example.com")
	other := registerAndLogin(t, env.app, "other@example.com")
	createProduct(t, env.app, token, "Stoneware mug", 1)
	addr := listen(t, env.app)

	conn, _, err := fastws.DefaultDialer.Dial("ws://"+addr+"/api/v1/products/stream", nil)
	require.NoError(t, err)

	frame := readFrame(t, conn)
	assert.Equal(t, "snapshot", frame.Type)
	require.Len(t, frame.Products, 1)

	createProduct(t, env.app, other, "Woven basket", 1)
	for len(frame.Products) < 2 {
		frame = readFrame(t, conn)
	}
	assert.Equal(t, "Woven basket", frame.Products[0].Title)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return env.broker.ListenerCount() == 0 }, 5*time.Second, 10*time.Millisecond)

	// plain HTTP is refused
	resp, _ := doJSON(t, env.app, http.MethodGet, "/api/v1/products/stream", "", nil)
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}

func TestRegistryDropsIdleAdapters(t *testing.T) {
	env := setupEnv(t)
	token := registerAndLogin(t, env.app, "maker@example.com")
	product := createProduct(t, env.app, token, "Stoneware mug", 1)
	assert.Equal(t, 0, env.registry.Len())

	resp, _ := doJSON(t, env.app, http.MethodPost, "/api/v1/seller/products/"+product["id"].(string)+"/edit", token, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, 1, env.registry.Len(), "open session keeps the adapter")

	resp, _ = doJSON(t, env.app, http.MethodDelete, "/api/v1/seller/edit", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, env.registry.Len())
}
