package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfitem/ai-newscast/internal/domain/model"
)

func testRecord(id, topic, title string) model.NewsRecord {
	return model.NewsRecord{
		Article: model.Article{
			ID:          id,
			Topic:       topic,
			Title:       title,
			Link:        "https://example.com/" + id,
			PublishDate: "2026-08-25T10:00:00Z",
			FullText:    "正文内容",
		},
		Dialogue: []model.Utterance{
			{Speaker: model.SpeakerQuestioner, Text: "What?"},
			{Speaker: model.SpeakerAnswerer, Text: "This."},
		},
		QuestionerToneStyle: "curious",
		AnswererToneStyle:   "calm",
		AudioFile:           "speech_files/" + id + ".mp3",
	}
}

func TestSaveAndLoad(t *testing.T) {
	t.Parallel()

	filePath := filepath.Join(t.TempDir(), "news.json")
	s := NewJSONNewsStore(filePath)

	records := []model.NewsRecord{
		testRecord("a1", "Technology", "Tech Story"),
		testRecord("a2", "Sports", "Sports Story"),
	}
	require.NoError(t, s.Save(records))

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, records, loaded)
}

func TestSaveOverwrites(t *testing.T) {
	t.Parallel()

	filePath := filepath.Join(t.TempDir(), "news.json")
	s := NewJSONNewsStore(filePath)

	require.NoError(t, s.Save([]model.NewsRecord{
		testRecord("a1", "Technology", "One"),
		testRecord("a2", "Sports", "Two"),
		testRecord("a3", "Health", "Three"),
	}))

	// 整体覆盖写入，旧记录不保留
	require.NoError(t, s.Save([]model.NewsRecord{
		testRecord("b1", "Science", "Four"),
		testRecord("b2", "Business", "Five"),
	}))

	loaded, err := s.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "b1", loaded[0].ID)
	assert.Equal(t, "b2", loaded[1].ID)
}

func TestSaveNilWritesEmptyArray(t *testing.T) {
	t.Parallel()

	filePath := filepath.Join(t.TempDir(), "news.json")
	s := NewJSONNewsStore(filePath)

	require.NoError(t, s.Save(nil))

	data, err := os.ReadFile(filePath)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(data))
}

func TestSaveCreatesDirectory(t *testing.T) {
	t.Parallel()

	filePath := filepath.Join(t.TempDir(), "nested", "dir", "news.json")
	s := NewJSONNewsStore(filePath)

	require.NoError(t, s.Save([]model.NewsRecord{testRecord("a1", "Technology", "Story")}))

	_, err := os.Stat(filePath)
	require.NoError(t, err)
}

func TestSaveFieldNames(t *testing.T) {
	t.Parallel()

	filePath := filepath.Join(t.TempDir(), "news.json")
	s := NewJSONNewsStore(filePath)
	require.NoError(t, s.Save([]model.NewsRecord{testRecord("a1", "Technology", "Story")}))

	data, err := os.ReadFile(filePath)
	require.NoError(t, err)

	var raw []map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Len(t, raw, 1)

	// 持久化字段名是对外契约
	for _, key := range []string{"id", "topic", "title", "url", "published_at", "full_text",
		"dialogue", "questioner_tone_style", "answerer_tone_style", "audio_file"} {
		assert.Contains(t, raw[0], key)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	s := NewJSONNewsStore(filepath.Join(t.TempDir(), "missing.json"))
	_, err := s.Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrIO))
}

func TestLoadCorruptFile(t *testing.T) {
	t.Parallel()

	filePath := filepath.Join(t.TempDir(), "news.json")
	require.NoError(t, os.WriteFile(filePath, []byte("{not json"), 0644))

	s := NewJSONNewsStore(filePath)
	_, err := s.Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrIO))
}
