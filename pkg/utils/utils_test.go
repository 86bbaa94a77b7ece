package utils

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

// --- CategorizeError Tests ---

func TestCategorizeError_NilError(t *testing.T) {
	result := CategorizeError(nil)
	if result != "None" {
		t.Errorf("CategorizeError(nil) = %q, want %q", result, "None")
	}
}

func TestCategorizeError_SentinelErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"RequiredSection", ErrRequiredSection, "Content_RequiredSection"},
		{"MaxRounds", ErrMaxRoundsExceeded, "Policy_MaxRounds"},
		{"InvalidPostURL", ErrInvalidPostURL, "Input_PostURL"},
		{"AssetTooLarge", ErrAssetTooLarge, "Asset_TooLarge"},
		{"UnsafePath", ErrUnsafePath, "Asset_UnsafePath"},
		{"MarkdownExport", ErrMarkdownExport, "Content_Markdown"},
		{"RequestCreation", ErrRequestCreation, "Internal_RequestCreation"},
		{"ResponseBodyRead", ErrResponseBodyRead, "Network_BodyRead"},
		{"ConfigValidation", ErrConfigValidation, "Config_Validation"},
		{"ServerHTTPError", ErrServerHTTPError, "HTTP_5xx"},
		{"OtherHTTPError", ErrOtherHTTPError, "HTTP_OtherStatus"},
		{"Database", ErrDatabase, "Database_Other"},
		{"Filesystem", ErrFilesystem, "Filesystem_Other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CategorizeError(tt.err)
			if result != tt.expected {
				t.Errorf("CategorizeError(%v) = %q, want %q", tt.err, result, tt.expected)
			}
		})
	}
}

func TestCategorizeError_WrappedErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "WrappedRequiredSection",
			err:      fmt.Errorf("task 'https://x.livejournal.com/1.html': %w", ErrRequiredSection),
			expected: "Content_RequiredSection",
		},
		{
			name:     "DoubleWrapped",
			err:      fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", ErrMaxRoundsExceeded)),
			expected: "Policy_MaxRounds",
		},
		{
			name:     "RetryFailedServer",
			err:      fmt.Errorf("%w: %w", ErrRetryFailed, fmt.Errorf("%w: status 503", ErrServerHTTPError)),
			expected: "RetryFailed_HTTPServer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CategorizeError(tt.err)
			if result != tt.expected {
				t.Errorf("CategorizeError(%v) = %q, want %q", tt.err, result, tt.expected)
			}
		})
	}
}

func TestCategorizeError_ClientHTTPCodes(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"404", fmt.Errorf("%w: status 404 Not Found", ErrClientHTTPError), "HTTP_404"},
		{"403", fmt.Errorf("%w: status 403 Forbidden", ErrClientHTTPError), "HTTP_403"},
		{"410", fmt.Errorf("%w: status 410 Gone", ErrClientHTTPError), "HTTP_410"},
		{"Generic4xx", fmt.Errorf("%w: status 400", ErrClientHTTPError), "HTTP_4xx"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CategorizeError(tt.err)
			if result != tt.expected {
				t.Errorf("CategorizeError(%v) = %q, want %q", tt.err, result, tt.expected)
			}
		})
	}
}

func TestCategorizeError_ParsingErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"URLParsing", fmt.Errorf("URL parsing failed: %w", ErrParsing), "Content_ParsingURL"},
		{"HTMLParsing", fmt.Errorf("HTML parsing failed: %w", ErrParsing), "Content_ParsingHTML"},
		{"JSONParsing", fmt.Errorf("JSON parsing failed: %w", ErrParsing), "Content_ParsingJSON"},
		{"GenericParsing", fmt.Errorf("parsing failed: %w", ErrParsing), "Content_ParsingOther"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CategorizeError(tt.err)
			if result != tt.expected {
				t.Errorf("CategorizeError(%v) = %q, want %q", tt.err, result, tt.expected)
			}
		})
	}
}

func TestCategorizeError_ContextAndNetwork(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"ContextCanceled", context.Canceled, "System_ContextCanceled"},
		{"ContextDeadlineExceeded", context.DeadlineExceeded, "System_ContextDeadlineExceeded"},
		{"Timeout", errors.New("connection timeout occurred"), "Network_TimeoutGeneric"},
		{"ConnectionRefused", errors.New("connection refused"), "Network_ConnectionRefused"},
		{"DNSLookup", errors.New("no such host"), "Network_DNSLookup"},
		{"TLS", errors.New("tls handshake failed"), "Network_TLS"},
		{"ConnectionReset", errors.New("reset by peer"), "Network_ConnectionReset"},
		{"Unknown", errors.New("some completely unknown error"), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CategorizeError(tt.err)
			if result != tt.expected {
				t.Errorf("CategorizeError(%v) = %q, want %q", tt.err, result, tt.expected)
			}
		})
	}
}

func TestWrapErrorf(t *testing.T) {
	err := WrapErrorf(ErrParsing, "bad JSON in %s", "page")
	if !errors.Is(err, ErrParsing) {
		t.Fatalf("expected wrapped error to match ErrParsing, got %v", err)
	}
	if !strings.Contains(err.Error(), "bad JSON in page") {
		t.Errorf("unexpected message: %q", err.Error())
	}

	plain := WrapErrorf(nil, "plain %d", 1)
	if plain.Error() != "plain 1" {
		t.Errorf("WrapErrorf(nil) = %q, want %q", plain.Error(), "plain 1")
	}
}

// --- SanitizeFilename Tests ---

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Simple", "hello", "hello"},
		{"WithSlash", "path/to/file", "path_to_file"},
		{"WithBackslash", "path\\to\\file", "path_to_file"},
		{"WithColon", "file:name", "file_name"},
		{"ConsecutiveUnderscores", "a___b", "a_b"},
		{"LeadingTrailingSpaces", "  file  ", "file"},
		{"DotDot", "..", "untitled"},
		{"LeadingDots", "..secret", "secret"},
		{"Empty", "", "untitled"},
		{"OnlyInvalidChars", "<>:", "untitled"},
		{"NullChar", "file\x00name", "file_name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestSanitizeFilename_LongNames(t *testing.T) {
	result := SanitizeFilename(strings.Repeat("a", 150))
	if len(result) != maxFilenameLength {
		t.Errorf("len(SanitizeFilename(150 chars)) = %d, want %d", len(result), maxFilenameLength)
	}
}

func TestSanitizeExtension(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{".jpg", ".jpg"},
		{".PNG", ".png"},
		{".jpeg", ".jpeg"},
		{"", GenericExtension},
		{".", GenericExtension},
		{".php?x=1", GenericExtension},
		{".toolongext", GenericExtension},
		{".j/g", GenericExtension},
	}
	for _, tt := range tests {
		if got := SanitizeExtension(tt.input); got != tt.expected {
			t.Errorf("SanitizeExtension(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestIsSafeRelPath(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"files/1/a.jpg", true},
		{"userpics/1/2.bin", true},
		{"../etc/passwd", false},
		{"files/../../x", false},
		{"/abs/path", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsSafeRelPath(tt.input); got != tt.want {
			t.Errorf("IsSafeRelPath(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

// --- Hash Tests ---

func TestURLHash_Deterministic(t *testing.T) {
	a := URLHash("https://example.com/a.png")
	b := URLHash("https://example.com/a.png")
	c := URLHash("https://example.com/b.png")

	if a != b {
		t.Errorf("URLHash not deterministic: %q != %q", a, b)
	}
	if a == c {
		t.Errorf("different URLs produced the same hash %q", a)
	}
	if len(a) != 64 {
		t.Errorf("len(URLHash) = %d, want 64", len(a))
	}
	if got := ShortURLHash("https://example.com/a.png", 8); got != a[:8] {
		t.Errorf("ShortURLHash = %q, want %q", got, a[:8])
	}
}
