package genai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	responses []openai.ChatCompletion
	errs      []error
	calls     int
	lastReq   openai.ChatCompletionNewParams
	block     bool
}

func (m *mockChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	i := m.calls
	m.calls++
	m.lastReq = params
	if m.block {
		<-ctx.Done()
		return openai.ChatCompletion{}, ctx.Err()
	}
	if i < len(m.errs) && m.errs[i] != nil {
		return openai.ChatCompletion{}, m.errs[i]
	}
	if i < len(m.responses) {
		return m.responses[i], nil
	}
	return m.responses[len(m.responses)-1], nil
}

func completion(text string) openai.ChatCompletion {
	return openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: text}}},
	}
}

func testClient(chat chatService, opts ...Option) *Client {
	cfg := defaultOpts()
	cfg.BaseBackoff = time.Millisecond
	for _, opt := range opts {
		opt(&cfg)
	}
	c := newClient(chat, cfg)
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return c
}

// apiError builds an SDK error complete enough for its Error method.
func apiError(code int) error {
	req, _ := http.NewRequest(http.MethodPost, "https://api.openai.com/v1/chat/completions", nil)
	return &openai.Error{StatusCode: code, Request: req, Response: &http.Response{StatusCode: code}}
}

func rateLimited() error {
	return apiError(http.StatusTooManyRequests)
}

func samplePrompt() PromptContext {
	return PromptContext{
		State:       models.StateChannel,
		DisplayName: "Lan",
		UserData: models.UserData{
			models.DataKeyMajor:             "Marketing",
			models.DataKeyPhone:             "0901 234 567",
			models.DataKeyPhoneStandardized: "0901234567",
			models.DataKeyPhoneNetwork:      "Mobifone",
		},
		Recent: []models.Message{
			{Role: models.RoleAssistant, Text: "What phone number can we reach you on?"},
			{Role: models.RoleUser, Text: "0901 234 567"},
		},
		Template:     "How would you prefer we contact you?",
		QuickReplies: []string{"Phone call", "Zalo", "SMS"},
	}
}

func TestPhrase_Success(t *testing.T) {
	chat := &mockChatService{responses: []openai.ChatCompletion{completion("  Which way should we reach you?  ")}}
	out, err := testClient(chat).Phrase(context.Background(), samplePrompt())
	require.NoError(t, err)
	assert.Equal(t, "Which way should we reach you?", out)
	assert.Equal(t, 1, chat.calls)
}

func TestPhrase_TooShortIsInvalidResponse(t *testing.T) {
	chat := &mockChatService{responses: []openai.ChatCompletion{completion("ok")}}
	_, err := testClient(chat).Phrase(context.Background(), samplePrompt())
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, KindInvalidResponse, gerr.Kind)
	assert.Equal(t, 1, chat.calls, "invalid responses are not retried")
}

func TestPhrase_NoChoices(t *testing.T) {
	chat := &mockChatService{responses: []openai.ChatCompletion{{}}}
	_, err := testClient(chat).Phrase(context.Background(), samplePrompt())
	assert.ErrorIs(t, err, ErrNoChoicesReturned)
}

func TestPhrase_RetriesTransientNetworkErrors(t *testing.T) {
	chat := &mockChatService{
		errs:      []error{errors.New("connection reset"), errors.New("connection reset"), nil},
		responses: []openai.ChatCompletion{{}, {}, completion("Happy to help you continue!")},
	}
	out, err := testClient(chat).Phrase(context.Background(), samplePrompt())
	require.NoError(t, err)
	assert.Equal(t, "Happy to help you continue!", out)
	assert.Equal(t, 3, chat.calls)
}

func TestPhrase_GivesUpAfterMaxAttempts(t *testing.T) {
	boom := errors.New("dial tcp: no route to host")
	chat := &mockChatService{errs: []error{boom, boom, boom, boom}, responses: []openai.ChatCompletion{{}}}
	_, err := testClient(chat).Phrase(context.Background(), samplePrompt())
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, KindNetwork, gerr.Kind)
	assert.Equal(t, DefaultMaxAttempts, chat.calls)
}

func TestPhrase_NonTransientFailsFast(t *testing.T) {
	chat := &mockChatService{errs: []error{apiError(http.StatusUnauthorized)}, responses: []openai.ChatCompletion{{}}}
	_, err := testClient(chat).Phrase(context.Background(), samplePrompt())
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, KindAPI, gerr.Kind)
	assert.Equal(t, http.StatusUnauthorized, gerr.StatusCode)
	assert.Equal(t, 1, chat.calls)
}

func TestPhrase_RateLimitStartsCooldown(t *testing.T) {
	chat := &mockChatService{errs: []error{rateLimited()}, responses: []openai.ChatCompletion{completion("Shall we continue?")}}
	c := testClient(chat, WithCooldown(time.Minute))
	_, err := c.Phrase(context.Background(), samplePrompt())
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, KindRateLimit, gerr.Kind)
	assert.True(t, c.InCooldown())
	assert.Equal(t, 1, chat.calls, "retry suppressed by cooldown")

	// Other sessions are suppressed too without hitting the service.
	_, err = c.Phrase(context.Background(), samplePrompt())
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, KindRateLimit, gerr.Kind)
	assert.Equal(t, 1, chat.calls)

	// Once the window passes calls resume.
	c.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	out, err := c.Phrase(context.Background(), samplePrompt())
	require.NoError(t, err)
	assert.Equal(t, "Shall we continue?", out)
}

func TestPhrase_Timeout(t *testing.T) {
	chat := &mockChatService{block: true}
	c := testClient(chat, WithTimeout(5*time.Millisecond), WithMaxAttempts(1))
	_, err := c.Phrase(context.Background(), samplePrompt())
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, KindTimeout, gerr.Kind)
}

func TestBuildUserPrompt_OmitsPhone(t *testing.T) {
	prompt := buildUserPrompt(samplePrompt())
	assert.NotContains(t, prompt, "0901234567")
	assert.NotContains(t, prompt, "0901 234 567")
	assert.Contains(t, prompt, "major: Marketing")
	assert.Contains(t, prompt, "phoneNetwork: Mobifone")
	assert.Contains(t, prompt, "Zalo")
	assert.True(t, strings.HasSuffix(prompt, "DRAFT: How would you prefer we contact you?"))
}

func TestNewClient_NoKey(t *testing.T) {
	_, err := NewClient()
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestNewClient_WithKey(t *testing.T) {
	cli, err := NewClient(WithAPIKey("test-key"), WithModel("gpt-4o"), WithTimeout(time.Second))
	require.NoError(t, err)
	assert.NotNil(t, cli)
	assert.Equal(t, "gpt-4o", cli.cfg.Model)
}

func TestErrorTransient(t *testing.T) {
	cases := []struct {
		err  *Error
		want bool
	}{
		{&Error{Kind: KindTimeout}, true},
		{&Error{Kind: KindRateLimit}, true},
		{&Error{Kind: KindNetwork}, true},
		{&Error{Kind: KindAPI, StatusCode: 503}, true},
		{&Error{Kind: KindAPI, StatusCode: 400}, false},
		{&Error{Kind: KindInvalidResponse}, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.err.Transient(), "%s/%d", tc.err.Kind, tc.err.StatusCode)
	}
}
