// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package retrieval answers natural-language queries from a tenant's indexed
// documents.
//
// A Retriever embeds the query and returns the most similar chunks. A
// Synthesizer turns those chunks into a grounded answer with a citation,
// degrading to a diagnostic answer when the generation backend fails. An
// Assistant runs both for one conversation turn.
package retrieval
