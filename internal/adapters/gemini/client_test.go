package gemini

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"tg-collector/internal/domain"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"grpc quota", status.Error(codes.ResourceExhausted, "quota exceeded"), domain.ErrTransformQuota},
		{"grpc auth", status.Error(codes.Unauthenticated, "bad key"), domain.ErrTransformAuth},
		{"grpc permission", status.Error(codes.PermissionDenied, "denied"), domain.ErrTransformAuth},
		{"http 429", &googleapi.Error{Code: http.StatusTooManyRequests}, domain.ErrTransformQuota},
		{"http 403", &googleapi.Error{Code: http.StatusForbidden}, domain.ErrTransformAuth},
		{"text quota", errors.New("You exceeded your current quota"), domain.ErrTransformQuota},
		{"text key", errors.New("API key not valid. Please pass a valid API key."), domain.ErrTransformAuth},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); !errors.Is(got, tc.want) {
				t.Fatalf("ожидали %v, получили %v", tc.want, got)
			}
		})
	}
}

func TestClassifyTransient(t *testing.T) {
	for _, err := range []error{
		status.Error(codes.Unavailable, "try later"),
		errors.New("connection reset by peer"),
		context.DeadlineExceeded,
	} {
		got := Classify(err)
		if errors.Is(got, domain.ErrTransformQuota) || errors.Is(got, domain.ErrTransformAuth) {
			t.Fatalf("временная ошибка классифицирована как постоянная: %v", got)
		}
		if !errors.Is(got, err) {
			t.Fatalf("исходная ошибка должна сохраниться: %v", got)
		}
	}
}

func TestResponseText(t *testing.T) {
	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{
		{Content: nil},
		{Content: &genai.Content{Parts: []genai.Part{genai.Text("# Digest\n"), genai.Text("### Theme 1")}}},
		{Content: &genai.Content{Parts: []genai.Part{genai.Text("ignored")}}},
	}}
	if got := responseText(resp); got != "# Digest\n### Theme 1" {
		t.Fatalf("неожиданный текст: %q", got)
	}
	if got := responseText(nil); got != "" {
		t.Fatalf("пустой ответ: %q", got)
	}
}
