package mcpserver

// RecordFormatContract describes the dragonden record model that LLM
// consumers should follow when creating records and content blocks.
const RecordFormatContract = `# Dragonden Record Contract

A lair is a tree of records. Every record has an ID (UUID), a kind, a name and
an ordered list of children and content blocks.

## Kinds

| Kind     | May contain        |
|----------|--------------------|
| Library  | Notebook           |
| Notebook | Project            |
| Project  | Task, Step         |
| Task     | Step               |
| Step     | nothing            |

Libraries are created by people, not tools. Buckets and Instances hold
measurement data and are registered by acquisition scripts.

## Content blocks

- **text**: markdown. Link to another record with ` + "`" + `[label](<record location>)` + "`" + `;
  links are shown with the record ID once read back.
- **image**: a stored resource, path ` + "`" + `/resources/<file>` + "`" + ` plus a title.
  Use the ` + "`" + `add_image` + "`" + ` tool to store one.
- **image_link**: an image owned by a data instance, with the instance ID.
- **table** and **code**: plain text.

Editing a block never overwrites it: each edit appends a version, and
repeating the current text records nothing.

## Rules

1. **Names** are 1-200 characters and must not contain path separators.
2. **Authors** must be registered users (email). Tools fall back to the
   server's default user when none is given.
3. **Placement**: pass ` + "`" + `under` + "`" + ` with a sibling ID to insert right after it;
   otherwise new items go to the end.
4. **Deletion** only hides a record or block; history is kept.

## Example

Create a project in a notebook, then document it:

1. ` + "`" + `get_structure` + "`" + ` to find the notebook ID.
2. ` + "`" + `create_entity` + "`" + ` with kind ` + "`" + `Project` + "`" + ` and the notebook as parent.
3. ` + "`" + `add_text_block` + "`" + ` with the returned ID and a markdown summary.
`
