// Package rag implements the ingestion and query pipelines.
//
// Ingestion walks a local tree and, for every file, runs
// Filter -> Key -> Gateway.EmbedDocument -> Writer.Upsert, recording per-file
// outcomes in an IngestReport. Querying runs Gateway.EmbedQuery ->
// Retriever -> Assembler -> Generator and either returns a complete Answer
// or a *StageError.
package rag
