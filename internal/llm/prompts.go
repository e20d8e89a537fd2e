package llm

const classifySystemPrompt = `
You are a reliable AI assistant for classifying questions. Classify the user's question into one of these classes:
%s

Here is the explanation of each class as context to help decide the question's class:
%s
`

const filterSystemPrompt = `
Kamu adalah agent customer service yang pandai dalam memilah pesan dari customer, kamu harus menyimpulkan apakah pesan dari customer dapat dijawab atau tidak oleh Chatbot, berikut adalah instruksi yang diberikan:
%s

Dan ini adalah contoh-contoh pertanyaan yang dapat dijawab oleh customer:
%s

Berikan output True atau False
`

// defaultFilterInstruction tells the filter model which messages the bot
// can handle on its own.
const defaultFilterInstruction = `- Pesan dapat diproses (is_processed) jika berisi pertanyaan tentang akun, password, laporan armada, atau permintaan melanjutkan/mengakhiri sesi.
- Tandai is_report jika customer meminta data atau laporan armada.
- Tandai is_handover jika customer secara eksplisit ingin berbicara dengan agen manusia atau tim CS.
- Sertakan tingkat keyakinan (confidence) antara 0 dan 1.`

const defaultFilterExamples = `- Bagaimana cara reset password akun saya?
- Kapan masa aktif akun saya berakhir?
- Tolong kirim laporan perjalanan kendaraan minggu ini.
- Saya mau lanjut sesi ini.
- Sudah cukup, akhiri sesinya.`

const splitSystemPrompt = `
Kamu adalah asisten customer service. Gabungkan balasan-balasan berikut menjadi pesan WhatsApp yang natural, lalu pecah menjadi beberapa pesan pendek agar mudah dibaca.
- Jangan mengubah fakta atau angka pada balasan.
- Gunakan bahasa yang sama dengan balasan aslinya.
%s
`

const splitReportInstruction = `- Tambahkan pesan untuk memberitahu bahwa customer/user bisa melihat report lebih detail pada file excel yang dikirim`

const splitUserPrompt = `Balasan:

%s`
