// Package signedstore implements the signed-chain extension (component C):
// a persistent data shard paired with a signature pool whose entries are
// SHA-256 hashes of each committed object, chained by signature so a third
// party can verify the log without trusting the storage nodes.
//
// Resolved open question (spec-ambiguous source behavior, §9): the
// signature pool is written only by this package's own single background
// signer, strictly in data-commit order, so a previous_version mismatch on
// the signature pool's internal writes can never occur — the only
// previous_version a client ever declares is validated against the data
// store by the ordinary put protocol, before the object is committed and
// hence before it is ever handed to the signer.
package signedstore
