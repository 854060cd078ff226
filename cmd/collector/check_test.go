package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func TestRunChecksContinuesAfterFailure(t *testing.T) {
	var order []string
	step := func(name string, err error) checkStep {
		return checkStep{name: name, run: func(ctx context.Context) (string, error) {
			order = append(order, name)
			if _, ok := ctx.Deadline(); !ok {
				t.Fatalf("%s: проверка без таймаута", name)
			}
			return "", err
		}}
	}

	results := runChecks(context.Background(), []checkStep{
		step("store", nil),
		step("telegram", errors.New("AUTH_KEY_UNREGISTERED")),
		step("docs", nil),
	})
	if strings.Join(order, ",") != "store,telegram,docs" {
		t.Fatalf("все проверки должны выполниться по порядку: %v", order)
	}

	var buf bytes.Buffer
	if failed := printChecks(&buf, results); failed != 1 {
		t.Fatalf("ожидали одну неудачу, получили %d", failed)
	}
	out := buf.String()
	for _, want := range []string{"✓ store", "✗ telegram: AUTH_KEY_UNREGISTERED", "✓ docs", "Пройдено 2 из 3"} {
		if !strings.Contains(out, want) {
			t.Fatalf("в выводе нет %q:\n%s", want, out)
		}
	}
}

func TestPrintChecksShowsDetail(t *testing.T) {
	var buf bytes.Buffer
	failed := printChecks(&buf, []checkResult{{name: "Google Docs", detail: "токен загружен"}})
	if failed != 0 || !strings.Contains(buf.String(), "✓ Google Docs: токен загружен") {
		t.Fatalf("неожиданный вывод: %q", buf.String())
	}
}
