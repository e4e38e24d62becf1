package problem

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var somethingWrong = Kind{Title: "This is an error.", Type: "something-wrong", Status: http.StatusInternalServerError}

func TestMarshalOrdersMembers(t *testing.T) {
	p := somethingWrong.New("something bad", WithExtra("a", "b"))

	body, err := p.Marshal("", false).Bytes()
	require.NoError(t, err)

	assert.Equal(t, `{"type":"something-wrong","title":"This is an error.","status":500,"a":"b","detail":"something bad"}`, string(body))
}

func TestMarshalOmitsEmptyDetail(t *testing.T) {
	p := New("a problem", 0, "")

	body, err := p.Marshal("", false).Bytes()
	require.NoError(t, err)

	assert.Equal(t, `{"type":"a-problem","title":"a problem","status":500}`, string(body))
}

func TestMarshalDocumentationTemplate(t *testing.T) {
	p := Kind{Title: "Custom unhandled exception", Status: 500}.New("Something went bad")

	doc := p.Marshal("https://docs/errors/{type}", false)
	typ, _ := doc.Get("type")

	assert.Equal(t, "https://docs/errors/custom-unhandled-exception", typ)
}

func TestMarshalStrictUsesBlankTypeWhenUnset(t *testing.T) {
	for _, title := range []string{"Unhandled exception occurred.", "Anything", ""} {
		p := Kind{Title: title, Status: 500}.New("detail")

		typ, _ := p.Marshal("https://docs/errors/{type}", true).Get("type")
		assert.Equal(t, BlankType, typ, "title %q", title)
	}
}

func TestMarshalStrictKeepsExplicitType(t *testing.T) {
	p := New("Unhandled exception occurred.", 500, "boom", WithType("unhandled-exception"))

	typ, _ := p.Marshal("https://docs/errors/{type}", true).Get("type")
	assert.Equal(t, "https://docs/errors/unhandled-exception", typ)
}

func TestWithExtraIgnoresReservedKeys(t *testing.T) {
	p := New("t", 400, "d", WithExtra("status", 999), WithExtra("title", "x"), WithExtra("trace", "abc"))

	require.Len(t, p.Extras, 1)
	assert.Equal(t, []string{"type", "title", "status", "trace", "detail"}, p.Marshal("", false).Keys())
}

func TestWithExtraReplacesExistingKey(t *testing.T) {
	p := New("t", 400, "", WithExtra("a", 1), WithExtra("b", 2), WithExtra("a", 3))

	v, ok := p.Extra("a")
	require.True(t, ok)
	assert.Equal(t, 3, v)
	assert.Equal(t, []string{"type", "title", "status", "a", "b"}, p.Marshal("", false).Keys())
}

func TestProblemErrorPrefersDetail(t *testing.T) {
	assert.Equal(t, "detail", New("title", 400, "detail").Error())
	assert.Equal(t, "title", New("title", 400, "").Error())
}

func TestKindDefaultsToServerStatus(t *testing.T) {
	p := Kind{Title: "No status"}.New("x")
	assert.Equal(t, http.StatusInternalServerError, p.Status)
}

func TestKindWithTitleKeepsStatus(t *testing.T) {
	k := NotFound.WithTitle("User not found")

	assert.Equal(t, http.StatusNotFound, k.Status)
	assert.Equal(t, "user-not-found", k.Slug())
}

func TestWriteEmitsProblemJSON(t *testing.T) {
	rr := httptest.NewRecorder()
	p := Unauthorized.New("Missing token", WithHeader("WWW-Authenticate", "Bearer"))

	require.NoError(t, Write(rr, p, "", false))

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, ContentType, rr.Header().Get("Content-Type"))
	assert.Equal(t, "Bearer", rr.Header().Get("WWW-Authenticate"))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
	assert.Equal(t, "unauthorized", payload["type"])
	assert.Equal(t, "Missing token", payload["detail"])
}

func TestDocumentDeleteAndClone(t *testing.T) {
	doc := NewDocument()
	doc.Set("a", 1)
	doc.Set("b", "<x>")
	doc.Set("c", true)

	clone := doc.Clone()
	doc.Delete("b")
	doc.Delete("missing")

	assert.Equal(t, []string{"a", "c"}, doc.Keys())
	assert.Equal(t, 3, clone.Len())

	body, err := clone.Bytes()
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":"<x>","c":true}`, string(body))
}
