/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package keyengine implements the domain-scoped RSA signing-key lifecycle
// engine: key generation, rotation, distributed locking, metadata tracking,
// scheduled rotation with retry, expired-key reaping, and the read-side
// Signer/JwksBuilder caches that sit on top of it.
package keyengine
