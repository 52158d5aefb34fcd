package domain

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTranscript_AppendKeepsReceiptOrder(t *testing.T) {
	req := require.New(t)
	transcript := NewTranscript()

	transcript.Append(ChatMessage{Message: "first"})
	transcript.Append(ChatMessage{Message: "second"})

	all := transcript.All()
	req.Len(all, 2)
	req.Equal("first", all[0].Message)
	req.Equal("second", all[1].Message)

	// Mutating the copy does not touch the transcript
	all[0].Message = "changed"
	req.Equal("first", transcript.All()[0].Message)
}

func TestTranscript_ConcurrentAppend(t *testing.T) {
	req := require.New(t)
	transcript := NewTranscript()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			transcript.Append(ChatMessage{Message: "x"})
		}()
	}
	wg.Wait()

	req.Equal(50, transcript.Len())
}

func TestComposer(t *testing.T) {
	req := require.New(t)
	var composer Composer

	composer.Set("draft")
	req.Equal("draft", composer.Text())

	composer.Clear()
	req.Empty(composer.Text())
}
