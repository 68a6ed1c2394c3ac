package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// maxClockSkew tolerates agents whose clock runs slightly ahead of ours.
const maxClockSkew = 5 * time.Minute

// RecordingSignature is hex(HMAC-SHA256(secret, "roomId:timestamp")).
func (v *Verifier) RecordingSignature(roomID, timestamp string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(roomID + ":" + timestamp))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignRecording returns "roomId:timestamp:signature" for the current time.
func (v *Verifier) SignRecording(roomID string) string {
	ts := formatMillis(v.now())
	return roomID + ":" + ts + ":" + v.RecordingSignature(roomID, ts)
}

// VerifyRecording validates a recording-agent token for roomID. The signature
// is compared in constant time; a room mismatch, a bad signature and an
// expired timestamp all fail closed with ErrInvalidToken.
func (v *Verifier) VerifyRecording(token, roomID string) error {
	sepSig := strings.LastIndex(token, ":")
	if sepSig <= 0 {
		return fmt.Errorf("%w: malformed recording token", ErrInvalidToken)
	}
	sepTS := strings.LastIndex(token[:sepSig], ":")
	if sepTS <= 0 {
		return fmt.Errorf("%w: malformed recording token", ErrInvalidToken)
	}
	signedRoom, ts, sig := token[:sepTS], token[sepTS+1:sepSig], token[sepSig+1:]

	want := v.RecordingSignature(signedRoom, ts)
	if !hmac.Equal([]byte(sig), []byte(want)) {
		return fmt.Errorf("%w: bad recording signature", ErrInvalidToken)
	}
	if !hmac.Equal([]byte(signedRoom), []byte(roomID)) {
		return fmt.Errorf("%w: %v", ErrInvalidToken, ErrRoomMismatch)
	}
	millis, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad recording timestamp", ErrInvalidToken)
	}
	issued := time.UnixMilli(millis)
	now := v.now()
	if now.Sub(issued) > v.recordingTTL || issued.Sub(now) > maxClockSkew {
		return fmt.Errorf("%w: recording token expired", ErrInvalidToken)
	}
	return nil
}
