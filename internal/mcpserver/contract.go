package mcpserver

// NoteFormatContract describes the on-disk note format that LLM consumers
// should know about when reading raw files or writing notes.
const NoteFormatContract = `# Ansuz Note Format Contract

Every note is one UTF-8 file in the vault. Its identity is the vault-relative
path without the extension, using forward slashes (e.g. ` + "`" + `projects/alpha` + "`" + `).

## Structure

` + "```" + `text
Content-Type: text/subtext
Created: 2025-01-15T09:00:00Z
Modified: 2025-01-20T17:42:10Z
Title: Weekly standup
Mood: focused

Body text starts after the first blank line.
` + "```" + `

## Rules

1. **Headers are optional.** A file whose first line is not a ` + "`" + `Key: Value` + "`" + ` pair is
   a bare body.
2. **Header keys** use letters, digits, ` + "`" + `-` + "`" + ` and ` + "`" + `_` + "`" + `. Matching is case-insensitive
   for the recognised keys ` + "`" + `Content-Type` + "`" + `, ` + "`" + `Created` + "`" + `, ` + "`" + `Modified` + "`" + ` and ` + "`" + `Title` + "`" + `.
3. **Unrecognised headers** are kept verbatim across writes.
4. **Timestamps** are RFC 3339 in UTC. A missing ` + "`" + `Modified` + "`" + ` falls back to the file
   modification time; a missing ` + "`" + `Created` + "`" + ` falls back to ` + "`" + `Modified` + "`" + `.
5. **Title** falls back to the first non-empty body line, then to the last identity
   segment with dashes turned into spaces.
6. **Identities** never start with ` + "`" + `/` + "`" + `, never contain ` + "`" + `..` + "`" + ` segments, and never
   start a segment with ` + "`" + `.` + "`" + ` (hidden paths are ignored by the index).

## Writing

Use the ` + "`" + `write_note` + "`" + ` tool with an identity, an optional title and the body.
Headers are rendered for you; do not include them in the body. The index is
updated in the same call, so the note is searchable immediately.
`
