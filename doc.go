// Patch machine code in a running process
//
// A patch is a transaction: the pages covering the target are made writable,
// the new instruction words are stored under memory barriers, the
// instruction cache is invalidated and the original page protection is put
// back, byte for byte. Other threads never see the page writable while the
// cache still holds the old code, and never see half of a batch.
//
// The engine does not decode what it writes. Callers compute the words.
//
// Only the initial address check can fail with an error. Once the
// protection has been opened the transaction runs to completion or panics
// with a *TransactionFault after restoring what it could.
package livepatch
