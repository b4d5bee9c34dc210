package gloss

// DefaultTemplate: Gemma chat 格式的英文 → ASL gloss 指令模板。
// 以 "ASL Gloss:\n" 收尾，引导模型直接续写答案。
const DefaultTemplate = `<start_of_turn>user
You are an expert ASL Linguistics assistant. Your task is to accurately translate English sentences into standard American Sign Language (ASL) Gloss. You must follow the rules and thinking process below precisely and provide ONLY the ASL Gloss output. Do not include explanations.

**Thinking Process to Follow:**
1.  **Analyze & Simplify:** Read the English sentence and remove all unnecessary words (articles, linking verbs) and convert all words to their base form (e.g., "running" -> RUN).
2.  **Identify Fingerspelling:** Identify all proper nouns (names like "Amir," places, brands) that must be fingerspelled with ` + "`fs-`" + `.
3.  **Determine Word Order:** Rearrange the core concepts into ASL grammar, which is typically **TIME - TOPIC - COMMENT**. The question word (WH-word) always goes at the very end.
4.  **Assemble Final Gloss:** Build the final gloss using the strict rules below.

**Crucial Examples of Correct Translation:**

English: "He is sitting in a chair."
ASL Gloss:
CHAIR, IX-he SIT.

English: "Amir is tall."
ASL Gloss:
fs-AMIR IX-he TALL

English: "The boy cried and cried."
ASL Gloss:
BOY IX-he CRY++

---
Now, following all rules and the thinking process, translate the sentence below. Provide ONLY the ASL Gloss.

English Sentence: "{english_text}"<end_of_turn>
<start_of_turn>model
ASL Gloss:
`
