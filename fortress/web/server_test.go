// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package web

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"artifortress.io/artifortress/fortress/audit"
	"artifortress.io/artifortress/fortress/auth"
	"artifortress.io/artifortress/fortress/blobs"
	"artifortress.io/artifortress/fortress/fortressdb/testdb"
	"artifortress.io/artifortress/fortress/gc"
	"artifortress.io/artifortress/fortress/objectstore/teststore"
	"artifortress.io/artifortress/fortress/packages"
	"artifortress.io/artifortress/fortress/policy"
	"artifortress.io/artifortress/fortress/reconcile"
	"artifortress.io/artifortress/fortress/repos"
	"artifortress.io/artifortress/fortress/upload"
	"artifortress.io/artifortress/internal/testcontext"
	"artifortress.io/artifortress/internal/testrand"
)

type testServer struct {
	t        *testing.T
	ctx      *testcontext.Context
	handler  http.Handler
	db       *testdb.DB
	store    *teststore.Store
	auth     *auth.Service
	tenantID uuid.UUID
}

func newTestServer(t *testing.T, ctx *testcontext.Context) *testServer {
	db := testdb.New()
	store := teststore.New()
	log := zaptest.NewLogger(t)
	tenantID := testrand.UUID()

	auditLog := audit.NewLog(log.Named("audit"), db.Audit(), tenantID)
	authService, err := auth.NewService(log.Named("auth"), db.Auth(),
		auth.Config{BootstrapSecret: "bootstrap-secret"}, tenantID)
	require.NoError(t, err)

	server := &Server{
		log: log.Named("web"),
		services: Services{
			Auth:      authService,
			Repos:     repos.NewService(db.Repos()),
			Upload:    upload.NewService(log.Named("upload"), db.Uploads(), db.Blobs(), store, upload.Config{}),
			Packages:  packages.NewService(log.Named("packages"), db.Packages(), packages.Config{}),
			Policy:    policy.NewService(log.Named("policy"), db.Policy(), policy.HintEngine{}, auditLog, tenantID, policy.Config{Timeout: 30 * time.Millisecond}),
			GC:        gc.NewService(log.Named("gc"), db.GC(), store, auditLog, tenantID, gc.Config{}),
			Reconcile: reconcile.NewService(db.Reconcile(), tenantID),
			AuditLog:  auditLog,
			Blobs:     db.Blobs(),
			Store:     store,
			Ping:      db.Ping,
		},
	}

	return &testServer{
		t:        t,
		ctx:      ctx,
		handler:  server.Router(),
		db:       db,
		store:    store,
		auth:     authService,
		tenantID: tenantID,
	}
}

// token issues a PAT for a subject with the given scopes.
func (ts *testServer) token(subject string, scopes ...string) string {
	_, plaintext, err := ts.auth.IssuePAT(ts.ctx, auth.IssuePATRequest{
		Subject: subject,
		Scopes:  scopes,
	})
	require.NoError(ts.t, err)
	return plaintext
}

// do performs one request against the router. A non-nil body is sent as
// json.
func (ts *testServer) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(ts.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	request := httptest.NewRequest(method, path, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	ts.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]interface{} {
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	return body
}

func (ts *testServer) createRepo(adminToken, key string) uuid.UUID {
	recorder := ts.do(http.MethodPost, "/v1/repos", adminToken,
		map[string]interface{}{"key": key, "type": "local"})
	require.Equal(ts.t, http.StatusCreated, recorder.Code, recorder.Body.String())
	id, err := uuid.Parse(decodeBody(ts.t, recorder)["id"].(string))
	require.NoError(ts.t, err)
	return id
}

// commitBlob seeds a committed blob reachable in the repository, bypassing
// the upload flow.
func (ts *testServer) commitBlob(repoID uuid.UUID, data []byte) string {
	digest := testrand.DigestOf(data)
	now := time.Now().UTC()
	key := "staging/" + digest
	ts.store.PutObject(key, data)
	require.NoError(ts.t, ts.db.Blobs().Upsert(ts.ctx, blobs.Blob{
		Digest:     digest,
		Length:     int64(len(data)),
		StorageKey: key,
		CreatedAt:  now,
	}))
	require.NoError(ts.t, ts.db.Uploads().Create(ts.ctx, upload.Session{
		ID:              testrand.UUID(),
		TenantID:        ts.tenantID,
		RepoID:          repoID,
		ExpectedDigest:  digest,
		ExpectedLength:  int64(len(data)),
		State:           upload.StateCommitted,
		CommittedDigest: digest,
		CreatedAt:       now,
		UpdatedAt:       now,
		ExpiresAt:       now.Add(time.Hour),
	}))
	return digest
}

func TestHealthEndpoints(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	ts := newTestServer(t, ctx)

	recorder := ts.do(http.MethodGet, "/health/live", "", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder = ts.do(http.MethodGet, "/health/ready", "", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	ts.store.FailWith(Error.New("object store down"))
	recorder = ts.do(http.MethodGet, "/health/ready", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, recorder.Code)
	require.Equal(t, "service_unavailable", decodeBody(t, recorder)["error"])
	ts.store.FailWith(nil)
}

func TestIssuePATBootstrap(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	ts := newTestServer(t, ctx)

	// no bootstrap header and no bearer
	recorder := ts.do(http.MethodPost, "/v1/auth/pats", "",
		map[string]interface{}{"subject": "root", "scopes": []string{"*:admin"}})
	require.Equal(t, http.StatusUnauthorized, recorder.Code)

	// the bootstrap header mints the first admin token
	request := httptest.NewRequest(http.MethodPost, "/v1/auth/pats",
		bytes.NewReader([]byte(`{"subject":"root","scopes":["*:admin"]}`)))
	request.Header.Set(BootstrapHeader, "bootstrap-secret")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, request)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	adminToken := body["token"].(string)
	require.NotEmpty(t, adminToken)
	tokenID, err := uuid.Parse(body["id"].(string))
	require.NoError(t, err)

	// a wrong bootstrap secret does not
	request = httptest.NewRequest(http.MethodPost, "/v1/auth/pats",
		bytes.NewReader([]byte(`{"subject":"root","scopes":["*:admin"]}`)))
	request.Header.Set(BootstrapHeader, "wrong")
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, request)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// from here on the admin bearer works
	recorder = ts.do(http.MethodPost, "/v1/auth/pats", adminToken,
		map[string]interface{}{"subject": "alice", "scopes": []string{"libs:read"}})
	require.Equal(t, http.StatusCreated, recorder.Code)
	aliceToken := decodeBody(t, recorder)["token"].(string)

	// non-admin bearers may not mint tokens
	recorder = ts.do(http.MethodPost, "/v1/auth/pats", aliceToken,
		map[string]interface{}{"subject": "eve", "scopes": []string{"libs:read"}})
	require.Equal(t, http.StatusForbidden, recorder.Code)

	recorder = ts.do(http.MethodGet, "/v1/auth/whoami", aliceToken, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Equal(t, "alice", decodeBody(t, recorder)["subject"])

	// revocation is admin-only and takes effect immediately
	recorder = ts.do(http.MethodPost, "/v1/auth/pats/revoke", aliceToken,
		map[string]interface{}{"token_id": tokenID})
	require.Equal(t, http.StatusForbidden, recorder.Code)

	recorder = ts.do(http.MethodPost, "/v1/auth/pats/revoke", adminToken,
		map[string]interface{}{"token_id": tokenID})
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder = ts.do(http.MethodGet, "/v1/auth/whoami", adminToken, nil)
	require.Equal(t, http.StatusUnauthorized, recorder.Code)

	// saml is not configured on this server
	recorder = ts.do(http.MethodGet, "/v1/auth/saml/metadata", "", nil)
	require.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestRoleEnforcement(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	ts := newTestServer(t, ctx)

	admin := ts.token("root", "*:admin")
	reader := ts.token("reader", "libs:read")
	writer := ts.token("writer", "libs:write")

	ts.createRepo(admin, "libs")
	ts.createRepo(admin, "private")

	recorder := ts.do(http.MethodGet, "/v1/auth/whoami", "", nil)
	require.Equal(t, http.StatusUnauthorized, recorder.Code)
	recorder = ts.do(http.MethodGet, "/v1/auth/whoami", "afp_garbage", nil)
	require.Equal(t, http.StatusUnauthorized, recorder.Code)
	require.Equal(t, "unauthenticated", decodeBody(t, recorder)["error"])

	// read works, write does not
	recorder = ts.do(http.MethodGet, "/v1/repos/libs", reader, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	recorder = ts.do(http.MethodPost, "/v1/repos/libs/uploads", reader,
		map[string]interface{}{"digest": testrand.Digest(), "length": 1})
	require.Equal(t, http.StatusForbidden, recorder.Code)
	require.Equal(t, "forbidden", decodeBody(t, recorder)["error"])

	// write implies read but not promote
	recorder = ts.do(http.MethodGet, "/v1/repos/libs", writer, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	recorder = ts.do(http.MethodGet, "/v1/repos/libs/quarantine", writer, nil)
	require.Equal(t, http.StatusForbidden, recorder.Code)

	// repo creation and deletion are privileged
	recorder = ts.do(http.MethodPost, "/v1/repos", writer,
		map[string]interface{}{"key": "new-repo", "type": "local"})
	require.Equal(t, http.StatusForbidden, recorder.Code)
	recorder = ts.do(http.MethodDelete, "/v1/repos/libs", writer, nil)
	require.Equal(t, http.StatusForbidden, recorder.Code)
	recorder = ts.do(http.MethodDelete, "/v1/repos/private", admin, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	// listing shows only readable repositories
	recorder = ts.do(http.MethodGet, "/v1/repos", reader, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	listed := decodeBody(t, recorder)["repositories"].([]interface{})
	require.Len(t, listed, 1)

	// bindings are repo-admin surface
	recorder = ts.do(http.MethodPut, "/v1/repos/libs/bindings/bob", writer,
		map[string]interface{}{"roles": []string{"read"}})
	require.Equal(t, http.StatusForbidden, recorder.Code)
	recorder = ts.do(http.MethodPut, "/v1/repos/libs/bindings/bob", admin,
		map[string]interface{}{"roles": []string{"read", "write"}})
	require.Equal(t, http.StatusOK, recorder.Code)
	recorder = ts.do(http.MethodGet, "/v1/repos/libs/bindings", admin, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	bindings := decodeBody(t, recorder)["bindings"].([]interface{})
	require.Len(t, bindings, 1)
}

func TestUploadAndBlobFlow(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	ts := newTestServer(t, ctx)

	admin := ts.token("root", "*:admin")
	writer := ts.token("writer", "libs:write")
	ts.createRepo(admin, "libs")

	data := testrand.BytesN(1024)
	digest := testrand.DigestOf(data)

	recorder := ts.do(http.MethodPost, "/v1/repos/libs/uploads", writer,
		map[string]interface{}{"digest": digest, "length": len(data)})
	require.Equal(t, http.StatusCreated, recorder.Code, recorder.Body.String())
	body := decodeBody(t, recorder)
	require.Equal(t, false, body["deduped"])
	session := body["upload"].(map[string]interface{})
	require.Equal(t, "initiated", session["state"])
	uploadID := session["id"].(string)

	recorder = ts.do(http.MethodPost, "/v1/repos/libs/uploads/"+uploadID+"/parts", writer,
		map[string]interface{}{"part_number": 1, "ttl_seconds": 60})
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	body = decodeBody(t, recorder)
	presigned, err := url.Parse(body["url"].(string))
	require.NoError(t, err)
	storageUploadID := presigned.Query().Get("uploadId")
	require.NotEmpty(t, storageUploadID)

	// the client pushes bytes through the presigned slot
	etag, err := ts.store.UploadPart(storageUploadID, 1, data)
	require.NoError(t, err)

	recorder = ts.do(http.MethodPost, "/v1/repos/libs/uploads/"+uploadID+"/complete", writer,
		map[string]interface{}{"parts": []map[string]interface{}{{"number": 1, "etag": etag}}})
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	require.Equal(t, "pending_commit", decodeBody(t, recorder)["state"])

	recorder = ts.do(http.MethodPost, "/v1/repos/libs/uploads/"+uploadID+"/commit", writer, nil)
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	require.Equal(t, "committed", decodeBody(t, recorder)["state"])

	// the blob now serves with digest and etag headers
	recorder = ts.do(http.MethodGet, "/v1/repos/libs/blobs/"+digest, writer, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Equal(t, data, recorder.Body.Bytes())
	require.Equal(t, "sha256:"+digest, recorder.Header().Get("X-Content-Digest"))
	require.Equal(t, "application/octet-stream", recorder.Header().Get("Content-Type"))

	request := httptest.NewRequest(http.MethodHead, "/v1/repos/libs/blobs/"+digest, nil)
	request.Header.Set("Authorization", "Bearer "+writer)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, request)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "1024", rec.Header().Get("Content-Length"))
	require.Empty(t, rec.Body.Bytes())

	// range requests
	request = httptest.NewRequest(http.MethodGet, "/v1/repos/libs/blobs/"+digest, nil)
	request.Header.Set("Authorization", "Bearer "+writer)
	request.Header.Set("Range", "bytes=0-3")
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, request)
	require.Equal(t, http.StatusPartialContent, rec.Code)
	require.Equal(t, data[:4], rec.Body.Bytes())
	require.Equal(t, "bytes 0-3/1024", rec.Header().Get("Content-Range"))

	for header, wantStatus := range map[string]int{
		"bytes=2048-":     http.StatusRequestedRangeNotSatisfiable,
		"bytes=-100":      http.StatusBadRequest,
		"bytes=0-3,10-12": http.StatusBadRequest,
		"items=0-5":       http.StatusBadRequest,
		"bytes=abc":       http.StatusBadRequest,
	} {
		request = httptest.NewRequest(http.MethodGet, "/v1/repos/libs/blobs/"+digest, nil)
		request.Header.Set("Authorization", "Bearer "+writer)
		request.Header.Set("Range", header)
		rec = httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, request)
		require.Equal(t, wantStatus, rec.Code, header)
	}

	// unknown and malformed digests
	recorder = ts.do(http.MethodGet, "/v1/repos/libs/blobs/"+testrand.Digest(), writer, nil)
	require.Equal(t, http.StatusNotFound, recorder.Code)
	recorder = ts.do(http.MethodGet, "/v1/repos/libs/blobs/not-hex", writer, nil)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestUploadVerificationFailure(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	ts := newTestServer(t, ctx)

	admin := ts.token("root", "*:admin")
	writer := ts.token("writer", "libs:write")
	ts.createRepo(admin, "libs")

	data := testrand.BytesN(256)
	expected := testrand.Digest() // not the digest of data

	recorder := ts.do(http.MethodPost, "/v1/repos/libs/uploads", writer,
		map[string]interface{}{"digest": expected, "length": len(data)})
	require.Equal(t, http.StatusCreated, recorder.Code)
	uploadID := decodeBody(t, recorder)["upload"].(map[string]interface{})["id"].(string)

	recorder = ts.do(http.MethodPost, "/v1/repos/libs/uploads/"+uploadID+"/parts", writer,
		map[string]interface{}{"part_number": 1})
	require.Equal(t, http.StatusOK, recorder.Code)
	presigned, err := url.Parse(decodeBody(t, recorder)["url"].(string))
	require.NoError(t, err)
	etag, err := ts.store.UploadPart(presigned.Query().Get("uploadId"), 1, data)
	require.NoError(t, err)

	recorder = ts.do(http.MethodPost, "/v1/repos/libs/uploads/"+uploadID+"/complete", writer,
		map[string]interface{}{"parts": []map[string]interface{}{{"number": 1, "etag": etag}}})
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder = ts.do(http.MethodPost, "/v1/repos/libs/uploads/"+uploadID+"/commit", writer, nil)
	require.Equal(t, http.StatusConflict, recorder.Code)
	body := decodeBody(t, recorder)
	require.Equal(t, "upload_verification_failed", body["error"])
	require.Equal(t, upload.ReasonDigestMismatch, body["reason"])
	require.Equal(t, expected, body["expected_digest"])
	require.Equal(t, testrand.DigestOf(data), body["actual_digest"])

	// the session is aborted afterwards
	recorder = ts.do(http.MethodGet, "/v1/repos/libs/uploads/"+uploadID, writer, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Equal(t, "aborted", decodeBody(t, recorder)["state"])
}

func TestPublishLifecycle(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	ts := newTestServer(t, ctx)

	admin := ts.token("root", "*:admin")
	writer := ts.token("writer", "libs:write")
	promoter := ts.token("promoter", "libs:promote")
	repoID := ts.createRepo(admin, "libs")
	digest := ts.commitBlob(repoID, testrand.BytesN(64))

	recorder := ts.do(http.MethodPost, "/v1/repos/libs/versions/drafts", writer,
		map[string]interface{}{"type": "npm", "name": "left-pad", "version": "1.0.0"})
	require.Equal(t, http.StatusCreated, recorder.Code, recorder.Body.String())
	versionID := decodeBody(t, recorder)["version"].(map[string]interface{})["id"].(string)

	// publishing an empty draft is a conflict
	recorder = ts.do(http.MethodPost, "/v1/repos/libs/versions/"+versionID+"/publish", promoter, nil)
	require.Equal(t, http.StatusConflict, recorder.Code)

	recorder = ts.do(http.MethodPost, "/v1/repos/libs/versions/"+versionID+"/entries", writer,
		map[string]interface{}{"entries": []map[string]interface{}{{
			"relative_path": "package.tgz",
			"blob_digest":   digest,
			"size_bytes":    64,
		}}})
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())

	// entries referencing an uncommitted digest carry the offender
	recorder = ts.do(http.MethodPost, "/v1/repos/libs/versions/"+versionID+"/entries", writer,
		map[string]interface{}{"entries": []map[string]interface{}{{
			"relative_path": "missing.tgz",
			"blob_digest":   testrand.Digest(),
			"size_bytes":    1,
		}}})
	require.Equal(t, http.StatusConflict, recorder.Code)
	require.NotEmpty(t, decodeBody(t, recorder)["digest"])

	recorder = ts.do(http.MethodPut, "/v1/repos/libs/versions/"+versionID+"/manifest", writer,
		map[string]interface{}{"type": "npm", "document": map[string]interface{}{
			"name": "left-pad", "version": "1.0.0",
		}})
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())

	// a deny hint blocks the publish
	recorder = ts.do(http.MethodPost, "/v1/repos/libs/versions/"+versionID+"/publish", promoter,
		map[string]interface{}{"policy_hint": "deny"})
	require.Equal(t, http.StatusConflict, recorder.Code)

	// a quarantine hint blocks it and holds the version
	recorder = ts.do(http.MethodPost, "/v1/repos/libs/versions/"+versionID+"/publish", promoter,
		map[string]interface{}{"policy_hint": "quarantine"})
	require.Equal(t, http.StatusConflict, recorder.Code)

	// the held version's blob is withheld from readers
	recorder = ts.do(http.MethodGet, "/v1/repos/libs/blobs/"+digest, writer, nil)
	require.Equal(t, http.StatusLocked, recorder.Code)
	require.Equal(t, "quarantined_blob", decodeBody(t, recorder)["error"])

	recorder = ts.do(http.MethodGet, "/v1/repos/libs/quarantine", promoter, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	held := decodeBody(t, recorder)["quarantine"].([]interface{})
	require.Len(t, held, 1)
	quarantineID := held[0].(map[string]interface{})["id"].(string)

	recorder = ts.do(http.MethodPost, "/v1/repos/libs/quarantine/"+quarantineID+"/release", promoter, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Equal(t, "released", decodeBody(t, recorder)["status"])

	// resolving twice conflicts
	recorder = ts.do(http.MethodPost, "/v1/repos/libs/quarantine/"+quarantineID+"/reject", promoter, nil)
	require.Equal(t, http.StatusConflict, recorder.Code)

	// released, the publish goes through
	recorder = ts.do(http.MethodPost, "/v1/repos/libs/versions/"+versionID+"/publish", promoter, nil)
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	body := decodeBody(t, recorder)
	require.Equal(t, false, body["idempotent"])
	require.Equal(t, true, body["eventEmitted"])
	require.Equal(t, "published", body["version"].(map[string]interface{})["state"])

	// republishing changes nothing and emits no second event
	recorder = ts.do(http.MethodPost, "/v1/repos/libs/versions/"+versionID+"/publish", promoter, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	body = decodeBody(t, recorder)
	require.Equal(t, true, body["idempotent"])
	require.Equal(t, false, body["eventEmitted"])

	// tombstoning hides the version from default listings
	recorder = ts.do(http.MethodPost, "/v1/repos/libs/versions/"+versionID+"/tombstone", promoter,
		map[string]interface{}{"reason": "superseded", "retention_days": 7})
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Equal(t, "tombstoned", decodeBody(t, recorder)["version"].(map[string]interface{})["state"])

	recorder = ts.do(http.MethodGet, "/v1/repos/libs/versions?type=npm&name=left-pad", writer, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Empty(t, decodeBody(t, recorder)["versions"])

	recorder = ts.do(http.MethodGet, "/v1/repos/libs/versions?type=npm&name=left-pad&include_tombstoned=true", writer, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Len(t, decodeBody(t, recorder)["versions"], 1)
}

func TestPublishPolicyTimeout(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	ts := newTestServer(t, ctx)

	admin := ts.token("root", "*:admin")
	writer := ts.token("writer", "libs:write")
	promoter := ts.token("promoter", "libs:promote")
	repoID := ts.createRepo(admin, "libs")
	digest := ts.commitBlob(repoID, testrand.BytesN(64))

	recorder := ts.do(http.MethodPost, "/v1/repos/libs/versions/drafts", writer,
		map[string]interface{}{"type": "npm", "name": "slow", "version": "1.0.0"})
	require.Equal(t, http.StatusCreated, recorder.Code)
	versionID := decodeBody(t, recorder)["version"].(map[string]interface{})["id"].(string)

	recorder = ts.do(http.MethodPost, "/v1/repos/libs/versions/"+versionID+"/entries", writer,
		map[string]interface{}{"entries": []map[string]interface{}{{
			"relative_path": "slow.tgz", "blob_digest": digest, "size_bytes": 64,
		}}})
	require.Equal(t, http.StatusOK, recorder.Code)

	// an unanswered engine fails the gate closed
	recorder = ts.do(http.MethodPost, "/v1/repos/libs/versions/"+versionID+"/publish", promoter,
		map[string]interface{}{"engine_version": policy.SimulateTimeoutVersion})
	require.Equal(t, http.StatusServiceUnavailable, recorder.Code)
	require.Equal(t, "policy_timeout", decodeBody(t, recorder)["error"])

	// direct evaluations surface the same way
	recorder = ts.do(http.MethodPost, "/v1/repos/libs/policy/evaluations", promoter,
		map[string]interface{}{
			"version_id":     versionID,
			"action":         "publish",
			"engine_version": policy.SimulateTimeoutVersion,
		})
	require.Equal(t, http.StatusServiceUnavailable, recorder.Code)

	recorder = ts.do(http.MethodPost, "/v1/repos/libs/policy/evaluations", promoter,
		map[string]interface{}{"version_id": versionID, "action": "publish", "hint": "allow"})
	require.Equal(t, http.StatusCreated, recorder.Code)
	require.Equal(t, "allow", decodeBody(t, recorder)["decision"])
}

func TestAdminEndpoints(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	ts := newTestServer(t, ctx)

	admin := ts.token("root", "*:admin")
	writer := ts.token("writer", "libs:write")
	ts.createRepo(admin, "libs")

	for _, path := range []string{
		"/v1/admin/gc/runs",
		"/v1/admin/ops/summary",
		"/v1/admin/reconcile/blobs",
		"/v1/audit",
	} {
		recorder := ts.do(http.MethodGet, path, writer, nil)
		require.Equal(t, http.StatusForbidden, recorder.Code, path)
	}

	recorder := ts.do(http.MethodPost, "/v1/admin/gc/runs", admin,
		map[string]interface{}{"mode": "dry_run"})
	require.Equal(t, http.StatusCreated, recorder.Code, recorder.Body.String())
	require.Equal(t, "dry_run", decodeBody(t, recorder)["mode"])

	recorder = ts.do(http.MethodPost, "/v1/admin/gc/runs", admin,
		map[string]interface{}{"mode": "purge"})
	require.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder = ts.do(http.MethodGet, "/v1/admin/gc/runs", admin, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Len(t, decodeBody(t, recorder)["runs"], 1)

	recorder = ts.do(http.MethodGet, "/v1/admin/ops/summary", admin, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	summary := decodeBody(t, recorder)
	require.Contains(t, summary, "pending_outbox")
	require.Contains(t, summary, "policy_timeouts_24h")

	recorder = ts.do(http.MethodGet, "/v1/admin/reconcile/blobs", admin, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder = ts.do(http.MethodGet, "/v1/audit?action="+audit.ActionGCRun, admin, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Len(t, decodeBody(t, recorder)["entries"], 1)

	recorder = ts.do(http.MethodGet, "/v1/audit?since=yesterday", admin, nil)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestRequestValidation(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	ts := newTestServer(t, ctx)

	admin := ts.token("root", "*:admin")
	writer := ts.token("writer", "libs:write")
	ts.createRepo(admin, "libs")

	// unknown repository
	recorder := ts.do(http.MethodGet, "/v1/repos/missing", admin, nil)
	require.Equal(t, http.StatusNotFound, recorder.Code)
	require.Equal(t, "not_found", decodeBody(t, recorder)["error"])

	// malformed uuid route variable
	recorder = ts.do(http.MethodGet, "/v1/repos/libs/uploads/not-a-uuid", writer, nil)
	require.Equal(t, http.StatusBadRequest, recorder.Code)

	// malformed and over-specified json bodies
	request := httptest.NewRequest(http.MethodPost, "/v1/repos/libs/uploads",
		bytes.NewReader([]byte("{")))
	request.Header.Set("Authorization", "Bearer "+writer)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, request)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	recorder = ts.do(http.MethodPost, "/v1/repos/libs/uploads", writer,
		map[string]interface{}{"digest": testrand.Digest(), "length": 1, "bogus": true})
	require.Equal(t, http.StatusBadRequest, recorder.Code)

	// domain validation surfaces as invalid_request
	recorder = ts.do(http.MethodPost, "/v1/repos/libs/uploads", writer,
		map[string]interface{}{"digest": "xyz", "length": 10})
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.Equal(t, "invalid_request", decodeBody(t, recorder)["error"])

	recorder = ts.do(http.MethodPost, "/v1/repos", admin,
		map[string]interface{}{"key": "bad key", "type": "local"})
	require.Equal(t, http.StatusBadRequest, recorder.Code)
}
