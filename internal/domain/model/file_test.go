package model

import (
	"testing"
)

// TestTypeFromFilename проверяет определение типа по расширению.
func TestTypeFromFilename(t *testing.T) {
	tests := []struct {
		filename string
		want     FileType
		ok       bool
	}{
		{"report.pdf", TypePDF, true},
		{"diagram.PNG", TypePNG, true},
		{"photo.jpg", TypeJPG, true},
		{"photo.jpeg", TypeJPEG, true},
		{"inventory.csv", TypeCSV, true},
		{"notes.txt", TypeTXT, true},
		{"contract.docx", TypeDOCX, true},
		{"budget.xlsx", TypeXLSX, true},
		{"archive.zip", "", false},
		{"script.exe", "", false},
		{"noextension", "", false},
		{"", "", false},
		{"multi.part.name.csv", TypeCSV, true},
	}

	for _, tt := range tests {
		got, ok := TypeFromFilename(tt.filename)
		if ok != tt.ok || got != tt.want {
			t.Errorf("TypeFromFilename(%q) = (%q, %v), ожидалось (%q, %v)",
				tt.filename, got, ok, tt.want, tt.ok)
		}
	}
}

// TestCanTransition проверяет допустимые переходы конечного автомата обработки.
func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to ProcessingStatus }{
		{StatusPending, StatusProcessing},
		{StatusProcessing, StatusCompleted},
		{StatusProcessing, StatusFailed},
	}
	for _, tt := range allowed {
		if !CanTransition(tt.from, tt.to) {
			t.Errorf("переход %s → %s должен быть допустим", tt.from, tt.to)
		}
	}

	denied := []struct{ from, to ProcessingStatus }{
		{StatusPending, StatusCompleted},
		{StatusPending, StatusFailed},
		{StatusProcessing, StatusPending},
		{StatusCompleted, StatusProcessing},
		{StatusCompleted, StatusPending},
		{StatusCompleted, StatusFailed},
		{StatusFailed, StatusCompleted},
		{StatusFailed, StatusProcessing},
	}
	for _, tt := range denied {
		if CanTransition(tt.from, tt.to) {
			t.Errorf("переход %s → %s должен быть запрещён", tt.from, tt.to)
		}
	}
}

// TestIsTerminal проверяет определение терминальных статусов.
func TestIsTerminal(t *testing.T) {
	if StatusPending.IsTerminal() || StatusProcessing.IsTerminal() {
		t.Error("pending и processing не являются терминальными")
	}
	if !StatusCompleted.IsTerminal() || !StatusFailed.IsTerminal() {
		t.Error("completed и failed являются терминальными")
	}
}

// TestValidCategory проверяет перечисление категорий.
func TestValidCategory(t *testing.T) {
	for _, c := range []Category{
		CategoryAssessment, CategoryReport, CategoryDiagram,
		CategoryData, CategoryDocumentation, CategoryTemplate,
	} {
		if !ValidCategory(c) {
			t.Errorf("категория %q должна быть валидной", c)
		}
	}
	if ValidCategory("archive") {
		t.Error("категория archive не входит в перечисление")
	}
}

// TestValidAccessLevel проверяет перечисление уровней доступа.
func TestValidAccessLevel(t *testing.T) {
	for _, a := range []AccessLevel{AccessPublic, AccessTeam, AccessPrivate, AccessClient} {
		if !ValidAccessLevel(a) {
			t.Errorf("уровень доступа %q должен быть валидным", a)
		}
	}
	if ValidAccessLevel("admin") {
		t.Error("уровень доступа admin не входит в перечисление")
	}
}

// TestIsImage проверяет определение растровых форматов.
func TestIsImage(t *testing.T) {
	for _, tt := range []struct {
		t    FileType
		want bool
	}{
		{TypePNG, true},
		{TypeJPG, true},
		{TypeJPEG, true},
		{TypePDF, false},
		{TypeCSV, false},
	} {
		if tt.t.IsImage() != tt.want {
			t.Errorf("IsImage(%s) = %v, ожидалось %v", tt.t, !tt.want, tt.want)
		}
	}
}
