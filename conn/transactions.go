package conn

import (
	"fmt"

	"github.com/AgustinSRG/rtmp-client/amf0"
	"github.com/AgustinSRG/rtmp-client/rtmperr"
)

// Result is the outcome of a command sent with a transaction id, delivered
// once the peer replies with a matching _result or _error command.
type Result struct {
	Success bool
	Args    []amf0.Value
	Err     error
}

// Transaction is a one-shot future for a single outstanding command,
// replacing the C-style callback-linked-list pattern with a channel the
// caller can select on or block on.
type Transaction struct {
	id   float64
	done chan Result
}

// Done returns the channel the transaction's result is delivered on. It
// receives exactly one value.
func (tr *Transaction) Done() <-chan Result { return tr.done }

// ExpectedCommand is a registration for a command the peer is expected to
// send outside of the transaction-id protocol (e.g. onStatus on a stream's
// message-stream id, which carries transaction id 0).
type ExpectedCommand struct {
	mstream uint32
	name    string
	done    chan Result
}

// Done returns the channel the expected command's result is delivered on.
func (ec *ExpectedCommand) Done() <-chan Result { return ec.done }

// SendCommand encodes and queues an AMF0 command on csid/mstream, assigning
// it a fresh transaction id, and returns a Transaction whose Done channel
// receives the peer's _result/_error reply. The transaction-id assignment
// and list append run on the Run loop goroutine via runOnLoop, the same
// goroutine resolveTransaction runs on, so the two never race.
func (c *Connection) SendCommand(csid, mstream uint32, name string, args ...amf0.Value) (*Transaction, error) {
	var tr *Transaction
	c.runOnLoop(func() {
		txnID := c.nextTxnID
		c.nextTxnID++

		payload := amf0.EncodeCommand(amf0.Command{Name: name, TransactionID: txnID, Args: args})
		tr = &Transaction{id: txnID, done: make(chan Result, 1)}
		c.transactions = append(c.transactions, tr)

		c.QueueMessage(csid, messageFor(mstream, payload))
	})
	return tr, nil
}

// RegisterExpectedCommand registers interest in the next command named name
// arriving on mstream's command channel, regardless of transaction id. Used
// for status notifications like onStatus that the peer sends unsolicited.
// Runs on the loop goroutine for the same reason SendCommand does.
func (c *Connection) RegisterExpectedCommand(mstream uint32, name string) *ExpectedCommand {
	ec := &ExpectedCommand{mstream: mstream, name: name, done: make(chan Result, 1)}
	c.runOnLoop(func() {
		c.expected = append(c.expected, ec)
	})
	return ec
}

func (c *Connection) resolveTransaction(id float64, success bool, args []amf0.Value) bool {
	for i, tr := range c.transactions {
		if tr.id != id {
			continue
		}
		c.transactions = append(c.transactions[:i], c.transactions[i+1:]...)
		tr.done <- Result{Success: success, Args: args}
		return true
	}
	return false
}

func (c *Connection) resolveExpectedCommand(mstream uint32, name string, args []amf0.Value) bool {
	for i, ec := range c.expected {
		if ec.mstream != mstream || ec.name != name {
			continue
		}
		c.expected = append(c.expected[:i], c.expected[i+1:]...)
		ec.done <- Result{Success: true, Args: args}
		return true
	}
	return false
}

// cancelAllPending resolves every outstanding transaction and expected
// command exactly once, with an error wrapping rtmperr.ErrConnectionClosed
// whatever the connection's terminal error was.
func (c *Connection) cancelAllPending() {
	for _, tr := range c.transactions {
		tr.done <- Result{Success: false, Err: fmt.Errorf("conn: %w", rtmperr.ErrConnectionClosed)}
	}
	c.transactions = nil
	for _, ec := range c.expected {
		ec.done <- Result{Success: false, Err: fmt.Errorf("conn: %w", rtmperr.ErrConnectionClosed)}
	}
	c.expected = nil
}
