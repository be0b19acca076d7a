package bletest

import (
	"bytes"
	"crypto/ecdh"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	blecrypto "github.com/chaz8081/bluetti-ble/internal/ble/crypto"
	"github.com/chaz8081/bluetti-ble/internal/ble/protocol"
)

// PeerOptions configures a simulated power station.
type PeerOptions struct {
	LocalKey  []byte                 // defaults to crypto.DefaultLocalKey
	Challenge []byte                 // 4 bytes; random when nil
	Silent    bool                   // never send the challenge
	RejectKey bool                   // answer PUBKEY_ACCEPTED with a non-zero status
	Corrupt   []protocol.MessageType // flip the checksum of these outgoing messages
}

// Peer plays the device side of the handshake and records the commands it
// receives once the session is up.
type Peer struct {
	opts    PeerOptions
	corrupt map[protocol.MessageType]bool

	mu          sync.Mutex
	unsecureKey []byte
	unsecureIV  []byte
	pending     *ecdh.PrivateKey
	secureKey   []byte
	ready       bool
	commands    []protocol.Command
	err         error
}

// NewPeer creates a simulated device.
func NewPeer(opts PeerOptions) *Peer {
	if opts.LocalKey == nil {
		opts.LocalKey = blecrypto.DefaultLocalKey
	}
	if opts.Challenge == nil {
		opts.Challenge = make([]byte, blecrypto.ChallengeSize)
		_, _ = rand.Read(opts.Challenge)
	}
	corrupt := make(map[protocol.MessageType]bool)
	for _, t := range opts.Corrupt {
		corrupt[t] = true
	}
	return &Peer{opts: opts, corrupt: corrupt}
}

// Start returns the frames the device sends when notifications are enabled.
func (p *Peer) Start() ([][]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.opts.Silent {
		return nil, nil
	}

	key, iv, err := blecrypto.DeriveChallengeKey(p.opts.LocalKey, p.opts.Challenge)
	if err != nil {
		return nil, p.fail(err)
	}
	p.unsecureKey, p.unsecureIV = key, iv

	frame, err := p.frame(protocol.MessageChallenge, p.opts.Challenge)
	if err != nil {
		return nil, p.fail(err)
	}
	return [][]byte{frame}, nil
}

// Receive consumes one write from the host and returns the notifications
// the device sends in reply.
func (p *Peer) Receive(data []byte) ([][]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ready {
		plain, err := blecrypto.Open(data, p.secureKey)
		if err != nil {
			return nil, p.fail(err)
		}
		cmd, err := protocol.ParseCommand(plain)
		if err != nil {
			return nil, p.fail(err)
		}
		p.commands = append(p.commands, cmd)
		return nil, nil
	}

	if p.unsecureKey == nil {
		return nil, p.fail(errors.New("peer: write before challenge"))
	}

	if msg, err := protocol.Parse(data); err == nil && msg.IsPreKeyExchange() {
		return p.onChallengeResponse(msg)
	}

	plain, err := blecrypto.Decrypt(data, p.unsecureKey, p.unsecureIV)
	if err != nil {
		return nil, p.fail(err)
	}
	inner, err := protocol.Parse(plain)
	if err != nil {
		return nil, p.fail(err)
	}
	if inner.Type() != protocol.MessageLocalPubKey {
		return nil, p.fail(fmt.Errorf("peer: unexpected encrypted %s", inner.Type()))
	}
	if err := inner.VerifyChecksum(); err != nil {
		return nil, p.fail(err)
	}
	return p.onLocalPubKey(inner.Payload())
}

func (p *Peer) onChallengeResponse(msg protocol.Message) ([][]byte, error) {
	if msg.Type() != protocol.MessageChallengeResponse {
		return nil, p.fail(fmt.Errorf("peer: unexpected %s", msg.Type()))
	}
	if err := msg.VerifyChecksum(); err != nil {
		return nil, p.fail(err)
	}
	want, err := blecrypto.ChallengeResponse(p.unsecureIV)
	if err != nil {
		return nil, p.fail(err)
	}
	if !bytes.Equal(msg.Payload(), want) {
		return nil, p.fail(fmt.Errorf("peer: wrong challenge response % x", msg.Payload()))
	}

	accepted, err := p.frame(protocol.MessageChallengeAccepted, nil)
	if err != nil {
		return nil, p.fail(err)
	}

	// The ECDH private key only lives until the host answers.
	priv, pub, err := blecrypto.GenerateKeyPair(nil)
	if err != nil {
		return nil, p.fail(err)
	}
	p.pending = priv
	pubFrame, err := p.frame(protocol.MessagePeerPubKey, blecrypto.EncodePublicKey(pub))
	if err != nil {
		return nil, p.fail(err)
	}
	encrypted, err := blecrypto.Encrypt(pubFrame, p.unsecureKey, p.unsecureIV)
	if err != nil {
		return nil, p.fail(err)
	}
	return [][]byte{accepted, encrypted}, nil
}

func (p *Peer) onLocalPubKey(raw []byte) ([][]byte, error) {
	if p.pending == nil {
		return nil, p.fail(errors.New("peer: public key before challenge response"))
	}
	hostPub, err := blecrypto.ParsePublicKey(raw)
	if err != nil {
		return nil, p.fail(err)
	}
	shared, err := blecrypto.DeriveSharedSecret(p.pending, hostPub)
	if err != nil {
		return nil, p.fail(err)
	}
	key, iv, err := blecrypto.DeriveSessionKey(shared)
	if err != nil {
		return nil, p.fail(err)
	}

	status := byte(0x00)
	if p.opts.RejectKey {
		status = 0x01
	}
	frame, err := p.frame(protocol.MessagePubKeyAccepted, []byte{status})
	if err != nil {
		return nil, p.fail(err)
	}
	encrypted, err := blecrypto.Encrypt(frame, key, iv)
	if err != nil {
		return nil, p.fail(err)
	}

	p.secureKey = key
	p.ready = !p.opts.RejectKey
	p.pending = nil
	return [][]byte{encrypted}, nil
}

// frame builds a handshake message, corrupting its checksum if configured.
func (p *Peer) frame(t protocol.MessageType, payload []byte) ([]byte, error) {
	msg, err := protocol.NewMessage(t, payload)
	if err != nil {
		return nil, err
	}
	b := msg.Bytes()
	if p.corrupt[t] {
		b[len(b)-1] ^= 0xFF
	}
	return b, nil
}

func (p *Peer) fail(err error) error {
	p.err = err
	return err
}

// SealData encrypts a device-to-host data frame under the session key.
func (p *Peer) SealData(plain []byte) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready {
		return nil, errors.New("peer: session not established")
	}
	return blecrypto.Seal(plain, p.secureKey, nil)
}

// Commands returns the decrypted commands received after the handshake.
func (p *Peer) Commands() []protocol.Command {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]protocol.Command, len(p.commands))
	copy(out, p.commands)
	return out
}

// Ready reports whether the device considers the session established.
func (p *Peer) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

// Err returns the last protocol error the device saw.
func (p *Peer) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// AttachPeer wires peer to conn: enabling notifications triggers the
// challenge, every write is fed to the peer, and replies are delivered in
// order on a separate goroutine until conn is disconnected.
func AttachPeer(conn *MockConnection, peer *Peer) {
	queue := make(chan []byte, 32)
	enqueue := func(frames [][]byte) {
		for _, f := range frames {
			select {
			case queue <- f:
			case <-conn.Done():
				return
			}
		}
	}

	conn.NotifyChar.OnSubscribe(func() {
		if frames, err := peer.Start(); err == nil {
			enqueue(frames)
		}
	})
	conn.WriteChar.OnWrite(func(data []byte) {
		if frames, err := peer.Receive(data); err == nil {
			enqueue(frames)
		}
	})

	go func() {
		for {
			select {
			case f := <-queue:
				conn.NotifyChar.SimulateNotification(f)
			case <-conn.Done():
				return
			}
		}
	}()
}
