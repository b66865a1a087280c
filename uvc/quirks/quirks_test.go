package quirks

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

const testGUID = "63610682-c829-4cf6-8fa6-e819e57d77c5"

func writeQuirksFile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
}

func TestLoadDirParsesOneDocument(t *testing.T) {
	dir := t.TempDir()
	writeQuirksFile(t, dir, "logitech.json", `{
		"schema_version": 1,
		"guid": "`+testGUID+`",
		"name": "Logitech XU",
		"controls": [
			{"selector": 1, "name": "LED", "type": "bool"}
		]
	}`)

	reg, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}

	doc, ok := reg.Lookup(uuid.MustParse(testGUID))
	if !ok {
		t.Fatal("expected a document for the loaded GUID")
	}
	if doc.Name != "Logitech XU" {
		t.Errorf("Name = %q, want %q", doc.Name, "Logitech XU")
	}
	if len(doc.Controls) != 1 || doc.Controls[0].Name != "LED" {
		t.Fatalf("unexpected controls: %+v", doc.Controls)
	}
}

func TestLoadDirIgnoresNonJSONFiles(t *testing.T) {
	dir := t.TempDir()
	writeQuirksFile(t, dir, "README.txt", "not a quirks file")

	reg, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(reg.byGUID) != 0 {
		t.Errorf("expected no documents loaded, got %d", len(reg.byGUID))
	}
}

func TestLoadDirRejectsMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	writeQuirksFile(t, dir, "broken.json", `{not valid json`)

	if _, err := LoadDir(dir); err == nil {
		t.Fatal("expected an error for malformed JSON")
	}
}

func TestLoadDirRejectsInvalidGUID(t *testing.T) {
	dir := t.TempDir()
	writeQuirksFile(t, dir, "bad-guid.json", `{"schema_version": 1, "guid": "not-a-guid", "name": "x"}`)

	if _, err := LoadDir(dir); err == nil {
		t.Fatal("expected an error for an invalid GUID")
	}
}

func TestMergeDocumentsFillsGapsWithoutOverwriting(t *testing.T) {
	sel := uint8(4)
	expectOld := uint8(0x03)
	expectNew := uint8(0x07)

	base := &Document{
		GUID: uuid.MustParse(testGUID),
		Name: "Base Name",
		Controls: []Control{
			{Selector: &sel, Name: "Contrast", GetInfoExpect: &expectOld},
		},
	}
	overlay := &Document{
		GUID: uuid.MustParse(testGUID),
		Controls: []Control{
			{Selector: &sel, Name: "Contrast Override", Notes: "vendor note", GetInfoExpect: &expectNew},
		},
	}

	merged := mergeDocuments(base, overlay)

	if merged.Name != "Base Name" {
		t.Errorf("Name should keep the base document's value, got %q", merged.Name)
	}
	if len(merged.Controls) != 1 {
		t.Fatalf("expected the duplicate selector to merge into one control, got %d", len(merged.Controls))
	}
	c := merged.Controls[0]
	if c.Name != "Contrast" {
		t.Errorf("Name should not be overwritten once set, got %q", c.Name)
	}
	if c.Notes != "vendor note" {
		t.Errorf("Notes should fill in from the overlay when the base left it empty, got %q", c.Notes)
	}
	if c.GetInfoExpect == nil || *c.GetInfoExpect != expectOld {
		t.Errorf("GetInfoExpect should keep the base's confirmed value, not the overlay's")
	}
}

func TestMergeDocumentsAppendsNewSelectors(t *testing.T) {
	sel1 := uint8(1)
	sel2 := uint8(2)
	base := &Document{GUID: uuid.MustParse(testGUID), Controls: []Control{{Selector: &sel1, Name: "A"}}}
	overlay := &Document{GUID: uuid.MustParse(testGUID), Controls: []Control{{Selector: &sel2, Name: "B"}}}

	merged := mergeDocuments(base, overlay)

	if len(merged.Controls) != 2 {
		t.Fatalf("expected both selectors present, got %d controls", len(merged.Controls))
	}
}

func TestLoadDirMergesRepeatedGUIDAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	writeQuirksFile(t, dir, "a.json", `{
		"schema_version": 1,
		"guid": "`+testGUID+`",
		"name": "Vendor Doc",
		"controls": [{"selector": 1, "name": "LED", "get_info_expect": 3}]
	}`)
	writeQuirksFile(t, dir, "b.json", `{
		"schema_version": 1,
		"guid": "`+testGUID+`",
		"controls": [{"selector": 1, "name": "LED Override", "get_info_expect": 7}]
	}`)

	reg, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	doc, ok := reg.Lookup(uuid.MustParse(testGUID))
	if !ok {
		t.Fatal("expected a merged document")
	}
	if len(doc.Controls) != 1 {
		t.Fatalf("expected one merged control, got %d", len(doc.Controls))
	}
	if *doc.Controls[0].GetInfoExpect != 3 {
		t.Errorf("GetInfoExpect should keep the first file's confirmed value, got %d", *doc.Controls[0].GetInfoExpect)
	}
}
