package middleware

import "testing"

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		name     string
		path     string
		expected string
	}{
		{
			"файл по UUID",
			"/api/v1/files/a1b2c3d4-e5f6-7890-abcd-ef1234567890",
			"/api/v1/files/{id}",
		},
		{
			"скачивание по UUID",
			"/api/v1/files/a1b2c3d4-e5f6-7890-abcd-ef1234567890/download",
			"/api/v1/files/{id}/download",
		},
		{
			"путь без UUID не меняется",
			"/api/v1/files/upload",
			"/api/v1/files/upload",
		},
		{
			"метрики",
			"/metrics",
			"/metrics",
		},
		{
			"не-UUID сегмент",
			"/api/v1/files/not-a-uuid",
			"/api/v1/files/not-a-uuid",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := normalizePath(tc.path); got != tc.expected {
				t.Errorf("normalizePath(%q) = %q, ожидалось %q", tc.path, got, tc.expected)
			}
		})
	}
}
