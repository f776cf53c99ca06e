package core

import (
	"errors"
	"testing"
)

func TestValidateSourceDocument(t *testing.T) {
	tests := []struct {
		name    string
		doc     *SourceDocument
		wantErr error
	}{
		{name: "valid", doc: &SourceDocument{TenantID: "t1", FileName: "a.txt"}},
		{name: "nil", doc: nil, wantErr: ErrInvalidDocument},
		{name: "missing tenant", doc: &SourceDocument{FileName: "a.txt"}, wantErr: ErrEmptyTenant},
		{name: "blank file name", doc: &SourceDocument{TenantID: "t1", FileName: "  "}, wantErr: ErrEmptyFileName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSourceDocument(tt.doc)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateSourceDocument() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateSourceDocument() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateChunk(t *testing.T) {
	valid := Chunk{ID: 7, DocumentID: "d1", Text: "hello", PageNumber: 1}

	tests := []struct {
		name    string
		mutate  func(c *Chunk)
		wantErr error
	}{
		{name: "valid", mutate: func(*Chunk) {}},
		{name: "unassigned id", mutate: func(c *Chunk) { c.ID = 0 }, wantErr: ErrInvalidChunk},
		{name: "missing document", mutate: func(c *Chunk) { c.DocumentID = "" }, wantErr: ErrInvalidChunk},
		{name: "empty text", mutate: func(c *Chunk) { c.Text = " " }, wantErr: ErrEmptyContent},
		{name: "page zero", mutate: func(c *Chunk) { c.PageNumber = 0 }, wantErr: ErrInvalidPageNumber},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			err := ValidateChunk(&c)
			if tt.wantErr == nil && err != nil {
				t.Errorf("ValidateChunk() error = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateChunk() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if err := ValidateTenant(Tenant{ID: " "}); !errors.Is(err, ErrEmptyTenant) {
		t.Errorf("ValidateTenant() error = %v, want ErrEmptyTenant", err)
	}
}
