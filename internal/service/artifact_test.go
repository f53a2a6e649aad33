package service_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/Strob0t/ChainForge/internal/domain/artifact"
	"github.com/Strob0t/ChainForge/internal/service"
)

func artifactFixture() (*service.ArtifactService, *memStore, *memObjects, *captureQueue, *captureHub) {
	store := newMemStore()
	objects := newMemObjects()
	queue := &captureQueue{}
	hub := &captureHub{}
	return service.NewArtifactService(store, objects, queue, hub), store, objects, queue, hub
}

func docRequest(name string, content []byte) artifact.CreateRequest {
	return artifact.CreateRequest{
		Type:     artifact.TypeDocument,
		Name:     name,
		MimeType: "text/markdown",
		Source:   artifact.SourceToolExecution,
		Content:  content,
	}
}

func TestArtifactCreateStoresContentAndAnnounces(t *testing.T) {
	svc, _, _, queue, hub := artifactFixture()
	ctx := context.Background()

	a, err := svc.Create(ctx, docRequest("report.md", []byte("# Report")))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if a.Version != 1 || !a.IsLatest {
		t.Errorf("artifact = v%d latest=%v, want v1 latest", a.Version, a.IsLatest)
	}
	if a.SizeBytes != 8 {
		t.Errorf("size = %d", a.SizeBytes)
	}

	got, content, err := svc.GetContent(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetContent: %v", err)
	}
	if !bytes.Equal(content, []byte("# Report")) {
		t.Errorf("content = %q", content)
	}
	if got.ID != a.ID {
		t.Errorf("metadata id = %s", got.ID)
	}

	if subjects := queue.subjects(); len(subjects) != 1 || subjects[0] != "artifacts.created" {
		t.Errorf("published = %v", subjects)
	}
	if types := hub.types(); len(types) != 1 || types[0] != "artifact.created" {
		t.Errorf("broadcast = %v", types)
	}
}

func TestArtifactCreateVersionFlipsLatest(t *testing.T) {
	svc, store, _, _, _ := artifactFixture()
	ctx := context.Background()

	v1, err := svc.Create(ctx, docRequest("report.md", []byte("draft")))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	v2, err := svc.CreateVersion(ctx, v1.ID, docRequest("report.md", []byte("final")))
	if err != nil {
		t.Fatalf("CreateVersion: %v", err)
	}
	if v2.Version != 2 || !v2.IsLatest {
		t.Errorf("v2 = version %d latest %v", v2.Version, v2.IsLatest)
	}

	old, err := store.GetArtifact(ctx, v1.ID)
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	if old.IsLatest {
		t.Error("v1 still flagged latest")
	}

	lineage, err := svc.Lineage(ctx, v2.ID)
	if err != nil {
		t.Fatalf("Lineage: %v", err)
	}
	if len(lineage) != 2 || lineage[0].Version != 1 || lineage[1].Version != 2 {
		t.Errorf("lineage = %+v", lineage)
	}
}

func TestArtifactCreateVersionFromAnyLineageMember(t *testing.T) {
	svc, _, _, _, _ := artifactFixture()
	ctx := context.Background()

	v1, _ := svc.Create(ctx, docRequest("report.md", []byte("one")))
	v2, err := svc.CreateVersion(ctx, v1.ID, docRequest("report.md", []byte("two")))
	if err != nil {
		t.Fatalf("CreateVersion: %v", err)
	}

	// Versioning on top of v2 still lands in v1's lineage.
	v3, err := svc.CreateVersion(ctx, v2.ID, docRequest("report.md", []byte("three")))
	if err != nil {
		t.Fatalf("CreateVersion on v2: %v", err)
	}
	if v3.Version != 3 || v3.ParentID != v1.ID {
		t.Errorf("v3 = version %d parent %s, want 3/%s", v3.Version, v3.ParentID, v1.ID)
	}
}

func TestArtifactCreateVersionUnknownLineage(t *testing.T) {
	svc, _, _, _, _ := artifactFixture()

	_, err := svc.CreateVersion(context.Background(), "art_document_missing", docRequest("x.md", []byte("x")))
	if err == nil {
		t.Fatal("expected error for unknown lineage")
	}
}

func TestArtifactHardDeleteRemovesBlob(t *testing.T) {
	svc, _, objects, _, _ := artifactFixture()
	ctx := context.Background()

	a, _ := svc.Create(ctx, docRequest("gone.md", []byte("bye")))
	if err := svc.HardDelete(ctx, a.ID); err != nil {
		t.Fatalf("HardDelete: %v", err)
	}
	if _, err := objects.Get(ctx, a.StoragePath); err == nil {
		t.Error("blob still present after hard delete")
	}
	if _, _, err := svc.GetContent(ctx, a.ID); err == nil {
		t.Error("deleted artifact still readable")
	}
}

func TestArtifactSoftDeleteKeepsBlob(t *testing.T) {
	svc, _, objects, _, _ := artifactFixture()
	ctx := context.Background()

	a, _ := svc.Create(ctx, docRequest("kept.md", []byte("still here")))
	if err := svc.SoftDelete(ctx, a.ID); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}
	if _, err := objects.Get(ctx, a.StoragePath); err != nil {
		t.Error("blob removed by soft delete")
	}
	// Listings no longer include it.
	list, _ := svc.List(ctx, artifact.ListFilter{})
	for _, item := range list {
		if item.ID == a.ID {
			t.Error("soft-deleted artifact still listed")
		}
	}
}
