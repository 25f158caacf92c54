// Copyright 2019 SpotHero
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_FetchDatafile_success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Last-Modified", "Wed, 01 Jan 2025 00:00:00 GMT")
		w.Write([]byte(`{"revision":"1"}`))
	}))
	defer srv.Close()

	c := NewClient(Token("secret"), HTTPClient(srv.Client()))
	body, status, lastModified, err := c.FetchDatafile(context.Background(), srv.URL, "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, `{"revision":"1"}`, string(body))
	assert.Equal(t, "Wed, 01 Jan 2025 00:00:00 GMT", lastModified)
}

func TestClient_FetchDatafile_notModified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Wed, 01 Jan 2025 00:00:00 GMT", r.Header.Get("If-Modified-Since"))
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	c := NewClient(HTTPClient(srv.Client()))
	body, status, _, err := c.FetchDatafile(context.Background(), srv.URL, "Wed, 01 Jan 2025 00:00:00 GMT")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotModified, status)
	assert.Nil(t, body)
}

func TestClient_FetchDatafile_errorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(HTTPClient(srv.Client()))
	_, _, _, err := c.FetchDatafile(context.Background(), srv.URL, "")
	assert.Error(t, err)
}

func TestClient_FetchDatafile_noTokenSendsNoAuthorizationHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := NewClient(HTTPClient(srv.Client()))
	_, _, _, err := c.FetchDatafile(context.Background(), srv.URL, "")
	require.NoError(t, err)
}

func TestClient_ReportEvents_success(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = buf
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(HTTPClient(srv.Client()), withEventsEndpoint(srv.URL))
	err := c.ReportEvents(context.Background(), []byte(`{"account_id":"1"}`))
	require.NoError(t, err)
	assert.Equal(t, `{"account_id":"1"}`, string(gotBody))
}

func TestClient_ReportEvents_nonNoContentStatusIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(HTTPClient(srv.Client()), withEventsEndpoint(srv.URL))
	err := c.ReportEvents(context.Background(), []byte(`{}`))
	assert.Error(t, err)
}
