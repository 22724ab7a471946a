package engine

import "github.com/ktxgo/ktxgo/internal/protocol"

// Resolve re-identifies previously selected trains in a fresh listing. The
// result follows the order of targets; missing counts targets absent from
// trains. When two rows share a key the later row wins.
func Resolve(trains []protocol.Train, targets []protocol.TrainKey) (found []protocol.Train, missing int) {
	byKey := make(map[protocol.TrainKey]protocol.Train, len(trains))
	for _, t := range trains {
		byKey[t.Key()] = t
	}
	for _, key := range targets {
		if t, ok := byKey[key]; ok {
			found = append(found, t)
		} else {
			missing++
		}
	}
	return found, missing
}
