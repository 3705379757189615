package service

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	apierrors "github.com/arturkryukov/anonshare/internal/api/errors"
	"github.com/arturkryukov/anonshare/internal/storage/payload"
	"github.com/arturkryukov/anonshare/internal/storage/resourcestore"
	"github.com/arturkryukov/anonshare/internal/storage/tokenstore"
)

// setupRelayTestEnv создаёт сервис relay на in-memory хранилищах.
func setupRelayTestEnv(t *testing.T) (*RelayService, *resourcestore.MemoryStore, *tokenstore.MemoryStore, *payload.Store) {
	t.Helper()

	payloads, err := payload.New(t.TempDir())
	if err != nil {
		t.Fatalf("Ошибка создания payload.Store: %v", err)
	}

	resources := resourcestore.NewMemoryStore()
	tokens := tokenstore.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	svc := NewRelayService(resources, tokens, payloads, logger)
	return svc, resources, tokens, payloads
}

// createFileSession — хелпер: создаёт файловую сессию с заданными параметрами.
func createFileSession(t *testing.T, svc *RelayService, params CreateParams) *CreateResult {
	t.Helper()

	if params.Reader == nil && !params.IsText {
		params.Reader = strings.NewReader("содержимое тестового файла")
		params.OriginalName = "report.pdf"
		params.ContentType = "application/pdf"
	}
	if params.TTL == 0 {
		params.TTL = time.Hour
	}

	result, svcErr := svc.CreateSession(context.Background(), params)
	if svcErr != nil {
		t.Fatalf("Ошибка создания сессии: %v", svcErr)
	}
	return result
}

func TestCreateSession_File(t *testing.T) {
	svc, _, tokens, _ := setupRelayTestEnv(t)

	result := createFileSession(t, svc, CreateParams{})

	if len(result.AccessCode) != 8 {
		t.Errorf("Длина accessCode: хотели 8, получили %d", len(result.AccessCode))
	}
	if len(result.OwnerToken) < 40 {
		t.Errorf("ownerToken слишком короткий: %d символов", len(result.OwnerToken))
	}
	if !result.ExpireAt.After(time.Now()) {
		t.Error("ExpireAt должен быть в будущем")
	}

	// Все четыре ключа на месте
	ctx := context.Background()
	sessionID, err := tokens.Get(ctx, tokenstore.AccessKey(result.AccessCode))
	if err != nil {
		t.Fatalf("Ключ access: не найден: %v", err)
	}
	if _, err := tokens.Get(ctx, tokenstore.SessionKey(sessionID)); err != nil {
		t.Errorf("Ключ session: не найден: %v", err)
	}
	if got, err := tokens.Get(ctx, tokenstore.OwnerKey(result.OwnerToken)); err != nil {
		t.Errorf("Ключ owner: не найден: %v", err)
	} else if got != sessionID {
		t.Errorf("owner: хотели %q, получили %q", sessionID, got)
	}
	if _, err := tokens.Get(ctx, tokenstore.MetadataKey(result.OwnerToken)); err != nil {
		t.Errorf("Ключ metadata: не найден: %v", err)
	}
}

func TestCreateSession_Text(t *testing.T) {
	svc, _, _, _ := setupRelayTestEnv(t)

	result := createFileSession(t, svc, CreateParams{
		IsText: true,
		Text:   "секретная заметка",
		TTL:    time.Hour,
	})

	meta, svcErr := svc.Resolve(context.Background(), result.AccessCode, "")
	if svcErr != nil {
		t.Fatalf("Ошибка Resolve: %v", svcErr)
	}
	if !meta.IsText {
		t.Error("IsText: хотели true, получили false")
	}
	if meta.SizeBytes != int64(len("секретная заметка")) {
		t.Errorf("SizeBytes: хотели %d, получили %d", len("секретная заметка"), meta.SizeBytes)
	}
}

func TestCreateSession_Validation(t *testing.T) {
	svc, _, _, _ := setupRelayTestEnv(t)
	ctx := context.Background()
	zero := 0

	tests := []struct {
		name   string
		params CreateParams
	}{
		{"нулевой TTL", CreateParams{Reader: strings.NewReader("x"), OriginalName: "a.txt"}},
		{"и файл и текст", CreateParams{Reader: strings.NewReader("x"), IsText: true, Text: "y", TTL: time.Hour}},
		{"ни файла ни текста", CreateParams{TTL: time.Hour}},
		{"пустой текст", CreateParams{IsText: true, TTL: time.Hour}},
		{"нулевой лимит", CreateParams{Reader: strings.NewReader("x"), OriginalName: "a.txt", TTL: time.Hour, MaxDownloads: &zero}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, svcErr := svc.CreateSession(ctx, tt.params)
			if svcErr == nil {
				t.Fatal("Хотели ошибку валидации, получили nil")
			}
			if svcErr.Code != apierrors.CodeValidationError {
				t.Errorf("Код ошибки: хотели %s, получили %s", apierrors.CodeValidationError, svcErr.Code)
			}
		})
	}
}

func TestResolve_NotFound(t *testing.T) {
	svc, _, _, _ := setupRelayTestEnv(t)

	_, svcErr := svc.Resolve(context.Background(), "nonexist", "")
	if svcErr == nil {
		t.Fatal("Хотели ошибку, получили nil")
	}
	if svcErr.Code != apierrors.CodeNotFound {
		t.Errorf("Код ошибки: хотели %s, получили %s", apierrors.CodeNotFound, svcErr.Code)
	}
}

func TestResolve_PasswordGate(t *testing.T) {
	svc, _, _, _ := setupRelayTestEnv(t)
	ctx := context.Background()

	result := createFileSession(t, svc, CreateParams{Password: "abc"})

	// Без пароля — только факт защиты, без метаданных
	_, svcErr := svc.Resolve(ctx, result.AccessCode, "")
	if svcErr == nil || svcErr.Code != apierrors.CodePasswordRequired {
		t.Fatalf("Хотели %s, получили %v", apierrors.CodePasswordRequired, svcErr)
	}

	// Неверный пароль
	_, svcErr = svc.Resolve(ctx, result.AccessCode, "wrong")
	if svcErr == nil || svcErr.Code != apierrors.CodeInvalidCredential {
		t.Fatalf("Хотели %s, получили %v", apierrors.CodeInvalidCredential, svcErr)
	}

	// Верный пароль — полные метаданные
	meta, svcErr := svc.Resolve(ctx, result.AccessCode, "abc")
	if svcErr != nil {
		t.Fatalf("Ошибка Resolve с верным паролем: %v", svcErr)
	}
	if meta.Name != "report.pdf" {
		t.Errorf("Name: хотели report.pdf, получили %s", meta.Name)
	}
	if !meta.PasswordProtected {
		t.Error("PasswordProtected: хотели true, получили false")
	}
}

func TestResolve_DoesNotMutateCounter(t *testing.T) {
	svc, _, _, _ := setupRelayTestEnv(t)
	ctx := context.Background()

	result := createFileSession(t, svc, CreateParams{})

	for i := 0; i < 5; i++ {
		meta, svcErr := svc.Resolve(ctx, result.AccessCode, "")
		if svcErr != nil {
			t.Fatalf("Ошибка Resolve #%d: %v", i, svcErr)
		}
		if meta.DownloadCount != 0 {
			t.Fatalf("Resolve изменил счётчик: %d", meta.DownloadCount)
		}
	}
}

func TestRetrieve_File(t *testing.T) {
	svc, _, _, _ := setupRelayTestEnv(t)

	result := createFileSession(t, svc, CreateParams{})

	got, svcErr := svc.Retrieve(context.Background(), result.AccessCode, "")
	if svcErr != nil {
		t.Fatalf("Ошибка Retrieve: %v", svcErr)
	}
	defer got.File.Close()

	data, err := io.ReadAll(got.File)
	if err != nil {
		t.Fatalf("Ошибка чтения файла: %v", err)
	}
	if string(data) != "содержимое тестового файла" {
		t.Errorf("Содержимое файла не совпадает: %q", string(data))
	}
	if got.Resource.DownloadCount != 1 {
		t.Errorf("DownloadCount: хотели 1, получили %d", got.Resource.DownloadCount)
	}
}

// Сценарий: лимит 2, пароль "abc". Первые два скачивания с верным
// паролем проходят, третье — DOWNLOAD_LIMIT_REACHED.
func TestRetrieve_DownloadLimit(t *testing.T) {
	svc, _, _, _ := setupRelayTestEnv(t)
	ctx := context.Background()
	limit := 2

	result := createFileSession(t, svc, CreateParams{
		TTL:          time.Hour,
		Password:     "abc",
		MaxDownloads: &limit,
	})

	for i := 1; i <= 2; i++ {
		got, svcErr := svc.Retrieve(ctx, result.AccessCode, "abc")
		if svcErr != nil {
			t.Fatalf("Скачивание #%d: %v", i, svcErr)
		}
		got.File.Close()
		if got.Resource.DownloadCount != i {
			t.Errorf("DownloadCount после #%d: хотели %d, получили %d", i, i, got.Resource.DownloadCount)
		}
	}

	_, svcErr := svc.Retrieve(ctx, result.AccessCode, "abc")
	if svcErr == nil || svcErr.Code != apierrors.CodeDownloadLimitReached {
		t.Fatalf("Хотели %s, получили %v", apierrors.CodeDownloadLimitReached, svcErr)
	}

	// Resolve после исчерпания лимита — тоже отказ
	_, svcErr = svc.Resolve(ctx, result.AccessCode, "abc")
	if svcErr == nil || svcErr.Code != apierrors.CodeDownloadLimitReached {
		t.Fatalf("Resolve после лимита: хотели %s, получили %v", apierrors.CodeDownloadLimitReached, svcErr)
	}

	// Парольная граница держится и после исчерпания лимита:
	// неаутентифицированный вызов не узнаёт состояние счётчика
	_, svcErr = svc.Resolve(ctx, result.AccessCode, "")
	if svcErr == nil || svcErr.Code != apierrors.CodePasswordRequired {
		t.Errorf("Resolve без пароля после лимита: хотели %s, получили %v",
			apierrors.CodePasswordRequired, svcErr)
	}
	_, svcErr = svc.Resolve(ctx, result.AccessCode, "wrong")
	if svcErr == nil || svcErr.Code != apierrors.CodeInvalidCredential {
		t.Errorf("Resolve с неверным паролем после лимита: хотели %s, получили %v",
			apierrors.CodeInvalidCredential, svcErr)
	}
	_, svcErr = svc.Retrieve(ctx, result.AccessCode, "wrong")
	if svcErr == nil || svcErr.Code != apierrors.CodeInvalidCredential {
		t.Errorf("Retrieve с неверным паролем после лимита: хотели %s, получили %v",
			apierrors.CodeInvalidCredential, svcErr)
	}
}

func TestRetrieve_Text(t *testing.T) {
	svc, _, _, _ := setupRelayTestEnv(t)

	result := createFileSession(t, svc, CreateParams{
		IsText: true,
		Text:   "зашифрованный блок",
		TTL:    time.Hour,
	})

	got, svcErr := svc.Retrieve(context.Background(), result.AccessCode, "")
	if svcErr != nil {
		t.Fatalf("Ошибка Retrieve: %v", svcErr)
	}
	if got.File != nil {
		t.Error("File для текстового ресурса должен быть nil")
	}
	if got.Resource.InlineText != "зашифрованный блок" {
		t.Errorf("InlineText: получили %q", got.Resource.InlineText)
	}
}

func TestRetrieve_Expired(t *testing.T) {
	svc, resources, tokens, _ := setupRelayTestEnv(t)
	ctx := context.Background()

	result := createFileSession(t, svc, CreateParams{TTL: time.Minute})

	// Переводим часы вперёд: токены ещё живы, запись уже истекла
	future := time.Now().Add(2 * time.Minute)
	resources.SetClock(func() time.Time { return future })

	_, svcErr := svc.Retrieve(ctx, result.AccessCode, "")
	if svcErr == nil || svcErr.Code != apierrors.CodeExpired {
		t.Fatalf("Хотели %s, получили %v", apierrors.CodeExpired, svcErr)
	}

	// Истечение и токенов — уже NOT_FOUND
	tokens.SetClock(func() time.Time { return future })
	_, svcErr = svc.Retrieve(ctx, result.AccessCode, "")
	if svcErr == nil || svcErr.Code != apierrors.CodeNotFound {
		t.Fatalf("Хотели %s, получили %v", apierrors.CodeNotFound, svcErr)
	}
}

func TestStatus(t *testing.T) {
	svc, _, _, _ := setupRelayTestEnv(t)
	ctx := context.Background()

	result := createFileSession(t, svc, CreateParams{})

	status, svcErr := svc.Status(ctx, result.AccessCode)
	if svcErr != nil {
		t.Fatalf("Ошибка Status: %v", svcErr)
	}
	if !status.Valid {
		t.Error("Valid: хотели true")
	}
	if status.Downloads != 0 {
		t.Errorf("Downloads: хотели 0, получили %d", status.Downloads)
	}

	got, svcErr := svc.Retrieve(ctx, result.AccessCode, "")
	if svcErr != nil {
		t.Fatalf("Ошибка Retrieve: %v", svcErr)
	}
	got.File.Close()

	status, svcErr = svc.Status(ctx, result.AccessCode)
	if svcErr != nil {
		t.Fatalf("Ошибка Status после скачивания: %v", svcErr)
	}
	if status.Downloads != 1 {
		t.Errorf("Downloads после скачивания: хотели 1, получили %d", status.Downloads)
	}
}

func TestOwnerStatus(t *testing.T) {
	svc, _, _, _ := setupRelayTestEnv(t)
	ctx := context.Background()

	result := createFileSession(t, svc, CreateParams{Password: "abc"})

	owner, svcErr := svc.OwnerStatus(ctx, result.OwnerToken)
	if svcErr != nil {
		t.Fatalf("Ошибка OwnerStatus: %v", svcErr)
	}
	if owner.AccessCode != result.AccessCode {
		t.Errorf("AccessCode: хотели %s, получили %s", result.AccessCode, owner.AccessCode)
	}
	if owner.OriginalName != "report.pdf" {
		t.Errorf("OriginalName: хотели report.pdf, получили %s", owner.OriginalName)
	}
	if !owner.PasswordProtected {
		t.Error("PasswordProtected: хотели true")
	}

	// Неизвестный токен владельца
	_, svcErr = svc.OwnerStatus(ctx, "unknown-token")
	if svcErr == nil || svcErr.Code != apierrors.CodeNotFound {
		t.Fatalf("Хотели %s, получили %v", apierrors.CodeNotFound, svcErr)
	}
}

func TestCancel(t *testing.T) {
	svc, _, tokens, payloads := setupRelayTestEnv(t)
	ctx := context.Background()

	result := createFileSession(t, svc, CreateParams{})

	if svcErr := svc.Cancel(ctx, result.OwnerToken); svcErr != nil {
		t.Fatalf("Ошибка Cancel: %v", svcErr)
	}

	// Код доступа больше не разрешается
	if _, svcErr := svc.Resolve(ctx, result.AccessCode, ""); svcErr == nil || svcErr.Code != apierrors.CodeNotFound {
		t.Fatalf("Resolve после Cancel: хотели %s, получили %v", apierrors.CodeNotFound, svcErr)
	}

	// Все ключи удалены, включая найденный обратным сканом access:
	if keys, err := tokens.Keys(ctx, "*"); err != nil {
		t.Fatalf("Ошибка Keys: %v", err)
	} else if len(keys) != 0 {
		t.Errorf("После Cancel остались ключи: %v", keys)
	}

	// Каталог данных пуст
	if locators, err := payloads.ListOlderThan(time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Ошибка обхода каталога: %v", err)
	} else if len(locators) != 0 {
		t.Errorf("После Cancel остались файлы: %v", locators)
	}

	// Повторная отмена — NOT_FOUND
	if svcErr := svc.Cancel(ctx, result.OwnerToken); svcErr == nil || svcErr.Code != apierrors.CodeNotFound {
		t.Fatalf("Повторный Cancel: хотели %s, получили %v", apierrors.CodeNotFound, svcErr)
	}
}

func TestCancel_DoesNotTouchOtherSessions(t *testing.T) {
	svc, _, _, _ := setupRelayTestEnv(t)
	ctx := context.Background()

	first := createFileSession(t, svc, CreateParams{})
	second := createFileSession(t, svc, CreateParams{
		Reader:       strings.NewReader("другой файл"),
		OriginalName: "other.txt",
		ContentType:  "text/plain",
		TTL:          time.Hour,
	})

	if svcErr := svc.Cancel(ctx, first.OwnerToken); svcErr != nil {
		t.Fatalf("Ошибка Cancel: %v", svcErr)
	}

	// Вторая сессия живёт
	meta, svcErr := svc.Resolve(ctx, second.AccessCode, "")
	if svcErr != nil {
		t.Fatalf("Вторая сессия пострадала от чужого Cancel: %v", svcErr)
	}
	if meta.Name != "other.txt" {
		t.Errorf("Name: хотели other.txt, получили %s", meta.Name)
	}
}
