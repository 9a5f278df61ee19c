/*
Package markov provides the order-2 Markov chain used as the local text
generation backend.

A Chain is built once from a reference corpus and is read-only afterwards, so a
single Chain can be shared by any number of concurrent generations without
locking. A Generator walks the chain token by token and delivers each token as
a stream.Event over a channel, which lets a transport flush every token to the
client before the next one is computed.

Sampling deliberately uses a pool-widening notion of temperature rather than a
softmax: see Sample.
*/
package markov
