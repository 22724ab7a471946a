package components

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ktxgo/ktxgo/internal/errors"
	"github.com/ktxgo/ktxgo/internal/protocol"
)

func sampleTrain() protocol.Train {
	return protocol.Train{
		TrainNo:      "101",
		TrainType:    "KTX",
		Departure:    "서울",
		Arrival:      "부산",
		DepTime:      "060000",
		ArrTime:      "083000",
		GeneralSeat:  "매진",
		SpecialSeat:  "예약가능",
		StandingSeat: "-",
		Price:        "0059800",
	}
}

func TestTrainBrief(t *testing.T) {
	assert.Equal(t, "101 060000-083000 서울->부산", TrainBrief(sampleTrain()))
}

func TestTrainLabel(t *testing.T) {
	label := TrainLabel(3, sampleTrain())
	assert.Equal(t, "[ 3] 101   060000-083000 서울->부산 일반:매진 특실:예약가능 입석:-", label)
}

func TestPrice(t *testing.T) {
	assert.Equal(t, "59800", Price("0059800"))
	assert.Equal(t, "0", Price("0000"))
	assert.Equal(t, "0", Price(""))
}

func TestRenderTrainTable(t *testing.T) {
	var buf bytes.Buffer
	second := sampleTrain()
	second.TrainNo = "103"
	RenderTrainTable(&buf, []protocol.Train{sampleTrain(), second})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "idx train")
	assert.Equal(t, strings.Repeat("-", len(trainTableHeader)), lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "  0 101"))
	assert.True(t, strings.HasPrefix(lines[3], "  1 103"))
	assert.True(t, strings.HasSuffix(lines[2], " 59800"))
}

func TestCellTruncatesAndPads(t *testing.T) {
	assert.Equal(t, "ab  ", cell("ab", 4))
	assert.Equal(t, "abcd", cell("abcdef", 4))
}

func TestRenderStatus(t *testing.T) {
	out := RenderStatus(StatusReserved, "예약 완료")
	assert.Contains(t, out, "🎫")
	assert.Contains(t, out, "예약 완료")

	out = RenderStatus("unknown", "hello")
	assert.Contains(t, out, "🔹")
}

func TestRenderError(t *testing.T) {
	assert.Empty(t, RenderError(nil, 80))

	vendorErr := &errors.VendorError{Message: "세션이 만료되었습니다", Code: "P058"}
	out := RenderError(vendorErr, 80)
	assert.Contains(t, out, "P058")
	assert.Contains(t, out, "session_expired")
	assert.Contains(t, out, "ktxgo login")

	out = RenderError(fmt.Errorf("pay: %w", errors.ErrPaymentFailed), 0)
	assert.Contains(t, out, "payment_failed")
	assert.Contains(t, out, "Pay manually")

	out = RenderError(fmt.Errorf("pay: %w", errors.ErrCardIncomplete), 0)
	assert.Contains(t, out, "card_incomplete")
	assert.Contains(t, out, "credentials set card")

	out = RenderError(fmt.Errorf("pay: %w: unable to determine payment key", errors.ErrPaymentDataIncomplete), 0)
	assert.Contains(t, out, "payment_data_incomplete")
	assert.NotContains(t, out, "credentials set card")
}
