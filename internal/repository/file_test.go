package repository

import (
	"strings"
	"testing"
	"time"
)

func strPtr(s string) *string { return &s }

func TestBuildSearchWhereEmpty(t *testing.T) {
	where, args := buildSearchWhere(SearchParams{}, 1)
	if where != "" {
		t.Errorf("без фильтров WHERE должен быть пустым, получено %q", where)
	}
	if len(args) != 0 {
		t.Errorf("без фильтров аргументов быть не должно, получено %d", len(args))
	}
}

func TestBuildSearchWhereTypes(t *testing.T) {
	where, args := buildSearchWhere(SearchParams{
		Types: []string{"pdf", "png"},
	}, 1)

	if !strings.Contains(where, "file_type = ANY($1)") {
		t.Errorf("where = %q, ожидался file_type = ANY($1)", where)
	}
	if len(args) != 1 {
		t.Fatalf("ожидался 1 аргумент, получено %d", len(args))
	}
}

func TestBuildSearchWhereTags(t *testing.T) {
	where, args := buildSearchWhere(SearchParams{
		Categories: []string{"data"},
		Tags:       []string{"azure-inventory", "q3"},
	}, 1)

	// Перекрытие массивов: запись подходит при любом совпавшем теге
	if !strings.Contains(where, "tags && $2") {
		t.Errorf("where = %q, ожидалось условие tags && $2", where)
	}
	if len(args) != 2 {
		t.Fatalf("ожидалось 2 аргумента, получено %d", len(args))
	}
	tags, ok := args[1].([]string)
	if !ok || len(tags) != 2 {
		t.Errorf("аргумент тегов: %v", args[1])
	}
}

func TestBuildSearchWhereCombined(t *testing.T) {
	after := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	where, args := buildSearchWhere(SearchParams{
		Categories:    []string{"report"},
		AssessmentID:  strPtr("a-1"),
		UploadedBy:    strPtr("user-7"),
		UploadedAfter: &after,
	}, 1)

	expected := []string{
		"category = ANY($1)",
		"assessment_id = $2",
		"uploaded_by = $3",
		"uploaded_at >= $4",
	}
	for _, e := range expected {
		if !strings.Contains(where, e) {
			t.Errorf("where = %q, ожидалось условие %q", where, e)
		}
	}
	if !strings.HasPrefix(where, "WHERE ") {
		t.Errorf("where должен начинаться с WHERE: %q", where)
	}
	if strings.Count(where, " AND ") != 3 {
		t.Errorf("ожидалось 3 AND, where = %q", where)
	}
	if len(args) != 4 {
		t.Errorf("ожидалось 4 аргумента, получено %d", len(args))
	}
}

func TestBuildSearchWhereSkipsEmptyStrings(t *testing.T) {
	// Пустая строка в указателе — фильтр не применяется
	where, args := buildSearchWhere(SearchParams{
		ClientID:   strPtr(""),
		UploadedBy: strPtr(""),
	}, 1)
	if where != "" {
		t.Errorf("пустые значения не должны порождать условий: %q", where)
	}
	if len(args) != 0 {
		t.Errorf("аргументов быть не должно, получено %d", len(args))
	}
}

func TestBuildSearchWhereArgNumbering(t *testing.T) {
	// Нумерация $-параметров должна продолжаться от startArg
	where, _ := buildSearchWhere(SearchParams{
		ClientID: strPtr("c-1"),
	}, 3)
	if !strings.Contains(where, "client_id = $3") {
		t.Errorf("where = %q, ожидался client_id = $3", where)
	}
}

func TestBuildUpdateSet(t *testing.T) {
	tags := []string{"q3", "network"}
	set, args := buildUpdateSet(UpdateParams{
		Category: strPtr("diagram"),
		Tags:     &tags,
	}, 1)

	if len(set) != 2 {
		t.Fatalf("ожидалось 2 SET-клаузы, получено %d: %v", len(set), set)
	}
	if set[0] != "category = $1" {
		t.Errorf("первая клауза: %q", set[0])
	}
	if set[1] != "tags = $2" {
		t.Errorf("вторая клауза: %q", set[1])
	}
	if len(args) != 2 {
		t.Errorf("ожидалось 2 аргумента, получено %d", len(args))
	}
}

func TestUpdateParamsIsEmpty(t *testing.T) {
	if !(UpdateParams{}).IsEmpty() {
		t.Error("пустые параметры должны давать IsEmpty = true")
	}
	if (UpdateParams{Category: strPtr("data")}).IsEmpty() {
		t.Error("непустые параметры должны давать IsEmpty = false")
	}
}
