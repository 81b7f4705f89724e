package models

import (
	"reflect"
	"strings"
	"testing"
)

// gormTag extracts the gorm tag from a struct field.
func gormTag(t *testing.T, typ reflect.Type, fieldName string) string {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	return f.Tag.Get("gorm")
}

// assertGormTag checks that a struct field's gorm tag contains the expected value.
func assertGormTag(t *testing.T, typ reflect.Type, fieldName, expected string) {
	t.Helper()
	tag := gormTag(t, typ, fieldName)
	if !strings.Contains(tag, expected) {
		t.Errorf("%s.%s gorm tag = %q, want to contain %q", typ.Name(), fieldName, tag, expected)
	}
}

// assertFieldType checks that a struct field has the expected Go type.
func assertFieldType(t *testing.T, typ reflect.Type, fieldName, expectedType string) {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	got := f.Type.String()
	if got != expectedType {
		t.Errorf("%s.%s type = %q, want %q", typ.Name(), fieldName, got, expectedType)
	}
}

func TestTrackedRepository_Fields(t *testing.T) {
	typ := reflect.TypeOf(TrackedRepository{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "Owner", "uniqueIndex:idx_owner_name")
	assertGormTag(t, typ, "Owner", "not null")
	assertGormTag(t, typ, "Name", "uniqueIndex:idx_owner_name")
	assertGormTag(t, typ, "Ref", "default:main")
	assertGormTag(t, typ, "Kind", "default:plugin")
	assertGormTag(t, typ, "TargetDir", "not null")
	assertGormTag(t, typ, "AutoUpdate", "index")
	assertGormTag(t, typ, "LastDeployedCommitSHA", "size:64")

	assertFieldType(t, typ, "ID", "uint")
	assertFieldType(t, typ, "Kind", "models.Kind")
	assertFieldType(t, typ, "AutoUpdate", "bool")
	assertFieldType(t, typ, "LastCheckedAt", "*time.Time")
	assertFieldType(t, typ, "LastDeployedAt", "*time.Time")
	assertFieldType(t, typ, "LastDeployedCommitSHA", "*string")
}

func TestTrackedRepository_FullName(t *testing.T) {
	r := TrackedRepository{Owner: "acme", Name: "widget"}
	if got := r.FullName(); got != "acme/widget" {
		t.Errorf("FullName() = %q, want %q", got, "acme/widget")
	}
}
